package models

import (
	"database/sql"
	"testing"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
)

func TestFSRSRoundTripKeepsSchedule(t *testing.T) {
	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	card := Card{
		Due:           sql.NullTime{Time: due, Valid: true},
		Stability:     4.2,
		Difficulty:    5.1,
		ScheduledDays: 3,
		Reps:          2,
		State:         int(fsrs.Review),
	}

	var back Card
	back.ApplyFSRSCard(card.ToFSRSCard())

	assert.Equal(t, card.Due, back.Due)
	assert.Equal(t, 4.2, back.Stability)
	assert.Equal(t, 2, back.Reps)
	assert.Equal(t, int(fsrs.Review), back.State)
	assert.False(t, back.LastReview.Valid)
}

func TestNegativeCountersClampToZero(t *testing.T) {
	card := Card{Reps: -3, Lapses: -1, State: -2}
	f := card.ToFSRSCard()
	assert.Zero(t, f.Reps)
	assert.Zero(t, f.Lapses)
	assert.Equal(t, fsrs.New, f.State)
}

func TestDocumentTypeValid(t *testing.T) {
	assert.True(t, DocumentMarkScheme.Valid())
	assert.False(t, DocumentType("exam").Valid())
}
