package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"exam-flash/internal/db"
	"exam-flash/internal/models"
)

// SubjectService groups generated cards by course or paper subject.
type SubjectService struct {
	db *sql.DB
}

func NewSubjectService(db *sql.DB) *SubjectService {
	return &SubjectService{db: db}
}

// Touch returns the named subject, creating it on first use. An empty name
// resolves to the default subject.
func (s *SubjectService) Touch(ctx context.Context, name, description string) (*models.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = db.DefaultSubject
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var subject models.Subject
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM subjects WHERE name = ?;
	`, name).Scan(
		&subject.ID,
		&subject.Name,
		&subject.Description,
		&subject.CreatedAt,
		&subject.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		descriptionVal := sql.NullString{Valid: description != "", String: description}
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO subjects (name, description, created_at, updated_at)
			VALUES (?, ?, ?, ?);
		`, name, descriptionVal, now, now)
		if execErr != nil {
			err = execErr
			return nil, fmt.Errorf("insert subject %s: %w", name, execErr)
		}
		id, _ := res.LastInsertId()
		subject = models.Subject{
			ID:          id,
			Name:        name,
			Description: descriptionVal,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = nil
	} else if err != nil {
		return nil, fmt.Errorf("select subject %s: %w", name, err)
	}

	if description != "" && (!subject.Description.Valid || subject.Description.String != description) {
		if _, err = tx.ExecContext(ctx, `
			UPDATE subjects SET description = ?, updated_at = ? WHERE id = ?;
		`, description, now, subject.ID); err != nil {
			return nil, fmt.Errorf("update subject description: %w", err)
		}
		subject.Description = sql.NullString{Valid: true, String: description}
		subject.UpdatedAt = now
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subject touch: %w", err)
	}
	return &subject, nil
}

// List returns subjects ordered by how many cards they hold.
func (s *SubjectService) List(ctx context.Context, limit int) ([]models.Subject, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.description, s.created_at, s.updated_at, COUNT(c.id)
		FROM subjects s
		LEFT JOIN cards c ON c.subject_id = s.id
		GROUP BY s.id
		ORDER BY COUNT(c.id) DESC, s.name ASC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(
			&subject.ID,
			&subject.Name,
			&subject.Description,
			&subject.CreatedAt,
			&subject.UpdatedAt,
			&subject.CardCount,
		); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}
