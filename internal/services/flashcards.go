package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"exam-flash/internal/models"
)

var (
	// ErrNoDueCards indicates that there are no cards ready to review.
	ErrNoDueCards = errors.New("no due cards")
)

const workingQueueSize = 20

const cardColumns = `
	c.id, c.subject_id, c.source_document_id, c.front, c.back, c.hint, c.card_type,
	c.difficulty_level, c.confidence, c.source_ref,
	c.due, c.stability, c.difficulty, c.elapsed_days, c.scheduled_days,
	c.reps, c.lapses, c.state, c.last_review, c.created_at, c.updated_at,
	c.working_queue_position, su.name, d.original_name
	FROM cards c
	LEFT JOIN subjects su ON c.subject_id = su.id
	LEFT JOIN documents d ON c.source_document_id = d.id`

// FlashcardService orchestrates card scheduling and persistence with FSRS.
type FlashcardService struct {
	db     *sql.DB
	params fsrs.Parameters
	now    func() time.Time
}

func NewFlashcardService(db *sql.DB) *FlashcardService {
	params := fsrs.DefaultParam()
	return &FlashcardService{db: db, params: params, now: func() time.Time { return time.Now().UTC() }}
}

// NextCard returns the next card due for review with working queue support.
// Priority order: 1) Cards in working queue, 2) Due cards, 3) Oldest unseen card
func (s *FlashcardService) NextCard(ctx context.Context) (*models.Card, error) {
	now := s.now()

	card, err := s.fetchCard(ctx, `SELECT `+cardColumns+`
		WHERE c.working_queue_position IS NOT NULL
		ORDER BY c.working_queue_position ASC
		LIMIT 1;
	`)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	card, err = s.fetchCard(ctx, `SELECT `+cardColumns+`
		WHERE c.due IS NOT NULL AND c.due <= ? AND c.working_queue_position IS NULL
		ORDER BY c.due ASC, c.confidence DESC, c.id ASC
		LIMIT 1;
	`, now)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	card, err = s.fetchCard(ctx, `SELECT `+cardColumns+`
		WHERE c.working_queue_position IS NULL AND c.state = 0
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT 1;
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, err
	}
	return card, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (*models.Card, error) {
	card := &models.Card{}
	if err := row.Scan(
		&card.ID,
		&card.SubjectID,
		&card.SourceDocumentID,
		&card.Front,
		&card.Back,
		&card.Hint,
		&card.CardType,
		&card.Level,
		&card.Confidence,
		&card.SourceRef,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
		&card.WorkingQueuePosition,
		&card.SubjectName,
		&card.SourceDocumentRef,
	); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *FlashcardService) fetchCard(ctx context.Context, query string, args ...any) (*models.Card, error) {
	return scanCard(s.db.QueryRowContext(ctx, query, args...))
}

// GetCard loads one card by id.
func (s *FlashcardService) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	card, err := s.fetchCard(ctx, `SELECT `+cardColumns+` WHERE c.id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load card %d: %w", id, err)
	}
	return card, nil
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *FlashcardService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.Card, *models.ReviewLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var card *models.Card
	card, err = scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+` WHERE c.id = ?;`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("card %d: %w", cardID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}

	now := s.now()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported", rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if rating == fsrs.Again {
		if err = s.addToWorkingQueue(ctx, tx, cardID); err != nil {
			return nil, nil, fmt.Errorf("add to working queue: %w", err)
		}
	} else {
		if err = s.removeFromWorkingQueue(ctx, tx, cardID); err != nil {
			return nil, nil, fmt.Errorf("remove from working queue: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	if err = tx.QueryRowContext(ctx, `SELECT working_queue_position FROM cards WHERE id = ?`, card.ID).
		Scan(&card.WorkingQueuePosition); err != nil {
		return nil, nil, fmt.Errorf("reload queue position: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	log := &models.ReviewLog{
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	return card, log, nil
}

// addToWorkingQueue appends a card to the "Again" queue, evicting the oldest
// entry once the queue is full.
func (s *FlashcardService) addToWorkingQueue(ctx context.Context, tx *sql.Tx, cardID int64) error {
	var existing sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT working_queue_position FROM cards WHERE id = ?", cardID).Scan(&existing); err != nil {
		return fmt.Errorf("check existing position: %w", err)
	}
	if existing.Valid {
		return nil
	}

	var maxPosition sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(working_queue_position) FROM cards WHERE working_queue_position IS NOT NULL").Scan(&maxPosition); err != nil {
		return fmt.Errorf("get max position: %w", err)
	}

	newPosition := int64(1)
	if maxPosition.Valid {
		newPosition = maxPosition.Int64 + 1
	}

	if newPosition > workingQueueSize {
		var oldest int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM cards WHERE working_queue_position IS NOT NULL ORDER BY working_queue_position ASC LIMIT 1").Scan(&oldest); err != nil {
			return fmt.Errorf("find oldest card: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE cards SET working_queue_position = NULL WHERE id = ?", oldest); err != nil {
			return fmt.Errorf("remove oldest card: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE cards SET working_queue_position = working_queue_position - 1 WHERE working_queue_position IS NOT NULL"); err != nil {
			return fmt.Errorf("shift positions: %w", err)
		}
		newPosition = workingQueueSize
	}

	if _, err := tx.ExecContext(ctx, "UPDATE cards SET working_queue_position = ? WHERE id = ?", newPosition, cardID); err != nil {
		return fmt.Errorf("add card to queue: %w", err)
	}
	return nil
}

func (s *FlashcardService) removeFromWorkingQueue(ctx context.Context, tx *sql.Tx, cardID int64) error {
	var position sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT working_queue_position FROM cards WHERE id = ?", cardID).Scan(&position); err != nil {
		return fmt.Errorf("get card position: %w", err)
	}
	if !position.Valid {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "UPDATE cards SET working_queue_position = NULL WHERE id = ?", cardID); err != nil {
		return fmt.Errorf("remove card from queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE cards SET working_queue_position = working_queue_position - 1 WHERE working_queue_position > ?", position.Int64); err != nil {
		return fmt.Errorf("shift positions down: %w", err)
	}
	return nil
}

// BulkInsertCards stores generated cards under a subject and source document.
// New cards are due immediately.
func (s *FlashcardService) BulkInsertCards(ctx context.Context, subjectID, documentID sql.NullInt64, cards []models.Card) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (subject_id, source_document_id, front, back, hint, card_type, difficulty_level,
		                   confidence, source_ref, due, stability, difficulty, elapsed_days,
		                   scheduled_days, reps, lapses, state, last_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	for i := range cards {
		card := &cards[i]
		card.SubjectID = subjectID
		card.SourceDocumentID = documentID
		card.CreatedAt = now
		card.UpdatedAt = now
		if !card.Due.Valid {
			card.Due = sql.NullTime{Time: now, Valid: true}
		}
		var res sql.Result
		if res, err = stmt.ExecContext(ctx,
			nullInt64Ptr(subjectID),
			nullInt64Ptr(documentID),
			card.Front,
			card.Back,
			card.Hint,
			card.CardType,
			card.Level,
			card.Confidence,
			card.SourceRef,
			nullTimePtr(card.Due),
			card.Stability,
			card.Difficulty,
			card.ElapsedDays,
			card.ScheduledDays,
			card.Reps,
			card.Lapses,
			card.State,
			nullTimePtr(card.LastReview),
			card.CreatedAt,
			card.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert card %q: %w", card.Front, err)
		}
		card.ID, _ = res.LastInsertId()
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	return nil
}

// ListCards returns cards newest first, optionally limited to one subject.
func (s *FlashcardService) ListCards(ctx context.Context, subject string, limit int) ([]models.Card, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+`
		WHERE (? = '' OR su.name = ?)
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ?;
	`, subject, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

// Stats counts cards by scheduling state.
func (s *FlashcardService) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	queries := []struct {
		name  string
		query string
		args  []any
	}{
		{"total", "SELECT COUNT(*) FROM cards;", nil},
		{"due", "SELECT COUNT(*) FROM cards WHERE due IS NOT NULL AND due <= ?;", []any{s.now()}},
		{"new", "SELECT COUNT(*) FROM cards WHERE state = ?;", []any{int(fsrs.New)}},
		{"learning", "SELECT COUNT(*) FROM cards WHERE state = ?;", []any{int(fsrs.Learning)}},
		{"review", "SELECT COUNT(*) FROM cards WHERE state = ?;", []any{int(fsrs.Review)}},
	}
	for _, q := range queries {
		var n int
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s cards: %w", q.name, err)
		}
		stats[q.name] = n
	}
	return stats, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}
