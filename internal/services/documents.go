package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"exam-flash/internal/apperr"
	"exam-flash/internal/models"
)

// ErrNotFound is returned when a stored row does not exist.
var ErrNotFound = errors.New("not found")

// UploadPolicy bounds what the document store accepts. An empty extension
// list or a zero size accepts anything.
type UploadPolicy struct {
	Extensions []string
	MaxBytes   int64
}

// Allows reports whether a file name has an accepted extension.
func (p UploadPolicy) Allows(name string) bool {
	if len(p.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range p.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// DocumentService keeps uploaded papers, mark schemes and notes under uuid
// names and records them with their page counts.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
	policy    UploadPolicy
}

func NewDocumentService(db *sql.DB, uploadDir string, policy UploadPolicy) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir, policy: policy}
}

// Create stores src as a document of docType. Unknown types, extensions
// outside the policy and oversized files are rejected as invalid input and
// leave nothing behind.
func (s *DocumentService) Create(ctx context.Context, original string, docType models.DocumentType, src io.Reader) (*models.Document, error) {
	if !docType.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unsupported document type %q", docType)
	}
	if !s.policy.Allows(original) {
		return nil, apperr.New(apperr.InvalidInput, "file %s: extension must be one of %s",
			original, strings.Join(s.policy.Extensions, ", "))
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}
	storedPath := filepath.Join(s.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(original)))
	if err := s.write(storedPath, original, src); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (original_name, stored_path, doc_type, page_count, uploaded_at)
		VALUES (?, ?, ?, 0, ?);
	`, original, storedPath, docType, now)
	if err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("insert document %s: %w", original, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("document id for %s: %w", original, err)
	}

	return &models.Document{
		ID:           id,
		OriginalName: original,
		StoredPath:   storedPath,
		Type:         docType,
		UploadedAt:   now,
	}, nil
}

func (s *DocumentService) write(path, original string, src io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if s.policy.MaxBytes > 0 {
		src = io.LimitReader(src, s.policy.MaxBytes+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write file %s: %w", original, err)
	}
	if s.policy.MaxBytes > 0 && n > s.policy.MaxBytes {
		os.Remove(path)
		return apperr.New(apperr.InvalidInput, "file %s exceeds %d bytes", original, s.policy.MaxBytes)
	}
	return nil
}

// RecordPages stores the page count read from a document and returns the
// updated row.
func (s *DocumentService) RecordPages(ctx context.Context, id int64, pages int) (*models.Document, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET page_count = ? WHERE id = ?;`, pages, id)
	if err != nil {
		return nil, fmt.Errorf("update page count of document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return s.GetByID(ctx, id)
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, doc_type, page_count, uploaded_at
		FROM documents WHERE id = ?;
	`, id).Scan(&doc.ID, &doc.OriginalName, &doc.StoredPath, &doc.Type, &doc.PageCount, &doc.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan document %d: %w", id, err)
	}
	return &doc, nil
}

// Delete removes a document row and its stored file. Cards generated from
// it keep their text; their source link is cleared by the schema.
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	if err := os.Remove(doc.StoredPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file of document %d: %w", id, err)
	}
	return nil
}
