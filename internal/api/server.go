package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"exam-flash/internal/apperr"
	"exam-flash/internal/config"
	"exam-flash/internal/jobs"
	"exam-flash/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// defaultUploadCards applies when an upload form omits num_cards.
const defaultUploadCards = 10

type Server struct {
	router     chi.Router
	cfg        config.Config
	flashcards *services.FlashcardService
	subjects   *services.SubjectService
	documents  *services.DocumentService
	ingestion  *services.IngestionService
	jobs       *jobs.Queue
	log        *slog.Logger
}

func NewServer(
	cfg config.Config,
	flashcards *services.FlashcardService,
	subjects *services.SubjectService,
	documents *services.DocumentService,
	ingestion *services.IngestionService,
	queue *jobs.Queue,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		flashcards: flashcards,
		subjects:   subjects,
		documents:  documents,
		ingestion:  ingestion,
		jobs:       queue,
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/api/health", s.handleHealth)

	r.Post("/api/flashcards/generate", s.handleGenerate)
	r.Post("/api/flashcards/jobs", s.handleGenerateJob)
	r.Post("/api/exams", s.handleUploadExam)
	r.Post("/api/notes", s.handleUploadNotes)

	r.Get("/api/jobs/{jobID}", s.handleJobStatus)
	r.Delete("/api/jobs/{jobID}", s.handleCancelJob)

	r.Get("/api/cards", s.handleListCards)
	r.Get("/api/cards/next", s.handleGetNextCard)
	r.Get("/api/cards/stats", s.handleCardStats)
	r.Post("/api/cards/{cardID}/review", s.handleReviewCard)

	r.Get("/api/subjects", s.handleListSubjects)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queued": s.jobs.Len(),
	})
}

const timeLayout = time.RFC3339

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	writeJSON(w, status, errorBody{Error: message, Kind: string(kind)})
}

// writeErr maps an error to a status by its kind.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isTooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, apperr.InvalidInput, "request body too large")
		return
	case errors.Is(err, services.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "", err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "", err.Error())
		return
	}

	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.InvalidInput, apperr.InvalidConfiguration:
		status = http.StatusBadRequest
	case apperr.UpstreamFailure:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()),
			"kind", kind, "error", err)
	}
	writeError(w, status, kind, err.Error())
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}
