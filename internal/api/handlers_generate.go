package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"exam-flash/internal/apperr"
	"exam-flash/internal/flashcards"
	"exam-flash/internal/jobs"
	"exam-flash/internal/models"
	"exam-flash/internal/services"
)

// contentSourceID labels cards generated from request bodies.
const contentSourceID = "content"

type generateRequest struct {
	Content           string                `json:"content"`
	NumCards          int                   `json:"num_cards"`
	Subject           string                `json:"subject"`
	CardTypes         []flashcards.CardType `json:"card_types"`
	DifficultyBalance string                `json:"difficulty_balance"`
}

func (g generateRequest) params(persist bool) services.GenerateParams {
	types := g.CardTypes
	if len(types) == 0 {
		types = flashcards.DefaultCardTypes
	}
	return services.GenerateParams{
		Subject:           strings.TrimSpace(g.Subject),
		CardTypes:         types,
		NumCards:          g.NumCards,
		DifficultyBalance: g.DifficultyBalance,
		Persist:           persist,
	}
}

func (s *Server) decodeGenerate(w http.ResponseWriter, r *http.Request) (generateRequest, error) {
	var payload generateRequest
	if err := s.limitBody(w, r); err != nil {
		return payload, err
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if isTooLarge(err) {
			return payload, err
		}
		return payload, apperr.Wrap(apperr.InvalidInput, err, "invalid payload")
	}
	if strings.TrimSpace(payload.Content) == "" {
		return payload, apperr.New(apperr.InvalidInput, "content must not be empty")
	}
	return payload, nil
}

// handleGenerate serves a generation request synchronously without storing
// the cards.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	payload, err := s.decodeGenerate(w, r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	res, err := s.ingestion.ProcessContent(r.Context(), payload.Content, contentSourceID, 0, payload.params(false), nil)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Generation)
}

func (s *Server) handleGenerateJob(w http.ResponseWriter, r *http.Request) {
	payload, err := s.decodeGenerate(w, r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	params := payload.params(true)
	if err := params.Validate(); err != nil {
		s.writeErr(w, r, err)
		return
	}
	snap, err := s.jobs.Submit("generate", func(ctx context.Context, progress jobs.ProgressFunc) (any, error) {
		return s.ingestion.ProcessContent(ctx, payload.Content, contentSourceID, 0, params, services.ProgressCallback(progress))
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// handleUploadExam stores a question paper and its mark scheme and queues
// the detect, align and generate pipeline over them.
func (s *Server) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseUpload(w, r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer form.RemoveAll()

	params, err := formParams(form)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	paper, err := s.storeUpload(r.Context(), form, "paper", models.DocumentQuestionPaper)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	scheme, err := s.storeUpload(r.Context(), form, "scheme", models.DocumentMarkScheme)
	if err != nil {
		s.discard(r.Context(), paper)
		s.writeErr(w, r, err)
		return
	}
	if params.Subject == "" {
		params.Subject = strings.TrimSuffix(paper.OriginalName, filepath.Ext(paper.OriginalName))
	}

	snap, err := s.jobs.Submit("exam:"+paper.OriginalName, func(ctx context.Context, progress jobs.ProgressFunc) (any, error) {
		return s.ingestion.ProcessExamPair(ctx, paper, scheme, params, services.ProgressCallback(progress))
	})
	if err != nil {
		s.discard(r.Context(), paper, scheme)
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleUploadNotes(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseUpload(w, r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer form.RemoveAll()

	params, err := formParams(form)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	doc, err := s.storeUpload(r.Context(), form, "file", models.DocumentNotes)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	snap, err := s.jobs.Submit("notes:"+doc.OriginalName, func(ctx context.Context, progress jobs.ProgressFunc) (any, error) {
		return s.ingestion.ProcessNotesDocument(ctx, doc, params, services.ProgressCallback(progress))
	})
	if err != nil {
		s.discard(r.Context(), doc)
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	if err := s.limitBody(w, r); err != nil {
		return nil, err
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if isTooLarge(err) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.InvalidInput, err, "invalid multipart form")
	}
	if r.MultipartForm == nil {
		return nil, apperr.New(apperr.InvalidInput, "invalid multipart form")
	}
	return r.MultipartForm, nil
}

// storeUpload copies the single file under field into the document store,
// which checks its extension and size.
func (s *Server) storeUpload(ctx context.Context, form *multipart.Form, field string, docType models.DocumentType) (*models.Document, error) {
	files := form.File[field]
	if len(files) != 1 {
		return nil, apperr.New(apperr.InvalidInput, "expected exactly one %q file, got %d", field, len(files))
	}
	header := files[0]

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", header.Filename, err)
	}
	defer src.Close()

	doc, err := s.documents.Create(ctx, header.Filename, docType, src)
	if err != nil {
		return nil, fmt.Errorf("create document %s: %w", header.Filename, err)
	}
	return doc, nil
}

// discard removes documents stored for a request that was not queued.
func (s *Server) discard(ctx context.Context, docs ...*models.Document) {
	ctx = context.WithoutCancel(ctx)
	for _, doc := range docs {
		if err := s.documents.Delete(ctx, doc.ID); err != nil {
			s.log.Warn("discard upload", "document", doc.ID, "file", doc.OriginalName, "error", err)
		}
	}
}

// formParams reads and validates generation settings from upload form
// fields. card_types may be repeated or comma separated.
func formParams(form *multipart.Form) (services.GenerateParams, error) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	params := services.GenerateParams{
		Subject:           value("subject"),
		NumCards:          defaultUploadCards,
		DifficultyBalance: value("difficulty_balance"),
		Persist:           true,
	}
	if raw := value("num_cards"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, apperr.New(apperr.InvalidInput, "num_cards must be an integer, got %q", raw)
		}
		params.NumCards = n
	}
	for _, v := range form.Value["card_types"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				params.CardTypes = append(params.CardTypes, flashcards.CardType(t))
			}
		}
	}
	if len(params.CardTypes) == 0 {
		params.CardTypes = flashcards.DefaultCardTypes
	}
	return params, params.Validate()
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

// limitBody rejects bodies that declare a length above the upload limit and
// caps the rest while reading.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > s.cfg.MaxUploadBytes {
		return &http.MaxBytesError{Limit: s.cfg.MaxUploadBytes}
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	return nil
}
