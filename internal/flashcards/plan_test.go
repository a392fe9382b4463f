package flashcards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSpreadsEvenlyOverTypes(t *testing.T) {
	balance, ok := LookupBalance("")
	require.True(t, ok)

	plan := Plan(DefaultCardTypes, 6, balance)

	perType := map[CardType]int{}
	total := 0
	for _, q := range plan {
		perType[q.CardType] += q.Count
		total += q.Count
	}
	assert.Equal(t, 6, total)
	assert.Equal(t, map[CardType]int{TypeDefinition: 2, TypeCloze: 2, TypeExplanation: 2}, perType)
}

func TestPlanRemainderGoesToFirstTypes(t *testing.T) {
	assert.Equal(t, []int{3, 2, 2}, splitEven(7, 3))
	assert.Equal(t, []int{1, 1, 0, 0}, splitEven(2, 4))
	assert.Equal(t, []int{0, 0}, splitEven(0, 2))
}

func TestSplitWeighted(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		n       int
		want    [3]int
	}{
		{"balanced single card goes to easy", "balanced", 1, [3]int{1, 0, 0}},
		{"balanced two cards", "balanced", 2, [3]int{1, 1, 0}},
		{"balanced nine cards", "balanced", 9, [3]int{3, 3, 3}},
		{"hard ten cards", "hard", 10, [3]int{2, 3, 5}},
		{"medium four cards", "medium", 4, [3]int{1, 2, 1}},
		{"easy ten cards", "easy", 10, [3]int{5, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := LookupBalance(tt.balance)
			require.True(t, ok)
			got := splitWeighted(tt.n, b.Weights)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.n, got[0]+got[1]+got[2])
		})
	}
}

func TestLookupBalance(t *testing.T) {
	b, ok := LookupBalance("  HARD ")
	require.True(t, ok)
	assert.Equal(t, "hard", b.Name)

	_, ok = LookupBalance("impossible")
	assert.False(t, ok)
}
