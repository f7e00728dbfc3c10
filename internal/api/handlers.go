package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lexmatch-backend/internal/languages"
	"lexmatch-backend/internal/model"
	"lexmatch-backend/internal/queue"
	"lexmatch-backend/internal/storage"
)

// SessionReader looks up practice-session history for collaborators.
type SessionReader interface {
	GetPracticeSession(ctx context.Context, matchID string) (*storage.PracticeSession, error)
}

type QueueStatusResponse struct {
	BucketSize int64      `json:"bucket_size"`
	Role       model.Role `json:"role"`
	Language   string     `json:"language"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func GetLanguagesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"languages": languages.GetSupportedLanguages(),
	})
}

// QueueStatusHandler reports the size of one (role, language) bucket.
func QueueStatusHandler(queues *queue.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := model.Role(r.URL.Query().Get("role"))
		language := r.URL.Query().Get("language")

		if !role.Valid() || !languages.IsValidLanguage(language) {
			writeError(w, http.StatusBadRequest, "role and a supported language are required")
			return
		}

		size, err := queues.Size(r.Context(), role, language)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get queue status")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QueueStatusResponse{
			BucketSize: size,
			Role:       role,
			Language:   language,
		})
	}
}

// GetSessionHandler returns the practice session recorded for a match.
func GetSessionHandler(sessions SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "matchID")
		if matchID == "" {
			writeError(w, http.StatusBadRequest, "match id is required")
			return
		}

		session, err := sessions.GetPracticeSession(r.Context(), matchID)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get session")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
