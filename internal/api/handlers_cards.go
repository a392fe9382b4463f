package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"exam-flash/internal/apperr"
	"exam-flash/internal/models"
	"exam-flash/internal/services"
)

type reviewRequest struct {
	Rating string `json:"rating"`
}

func cardView(card *models.Card) map[string]any {
	return map[string]any{
		"id":               card.ID,
		"front":            card.Front,
		"back":             card.Back,
		"hint":             card.Hint,
		"card_type":        card.CardType,
		"difficulty":       card.Level,
		"confidence_score": card.Confidence,
		"due":              nullTimeToString(card.Due),
		"subject":          nullString(card.SubjectName),
		"source":           nullString(card.SourceDocumentRef),
		"source_ref":       card.SourceRef,
		"state":            card.State,
		"stability":        card.Stability,
		"created_at":       card.CreatedAt.Format(timeLayout),
	}
}

func (s *Server) handleGetNextCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.flashcards.NextCard(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": cardView(card)})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	cards, err := s.flashcards.ListCards(r.Context(), r.URL.Query().Get("subject"), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(cards))
	for i := range cards {
		out = append(out, cardView(&cards[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flashcards": out,
		"total":      len(out),
	})
}

func (s *Server) handleCardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.flashcards.Stats(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleReviewCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.InvalidInput, "invalid card id")
		return
	}

	var payload reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, apperr.InvalidInput, "invalid payload")
		return
	}

	rating, err := parseRating(payload.Rating)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	card, logEntry, err := s.flashcards.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card": map[string]any{
			"id":    card.ID,
			"due":   nullTimeToString(card.Due),
			"state": card.State,
		},
		"log": map[string]any{
			"rating":  logEntry.Rating,
			"due_in":  logEntry.ScheduledDays,
			"updated": logEntry.ReviewedAt.Format(timeLayout),
		},
	})
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.subjects.List(r.Context(), 50)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

func parseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	default:
		return 0, apperr.New(apperr.InvalidInput, "unknown rating %q", raw)
	}
}

