package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// UserHeader carries the caller's identity.
const UserHeader = "X-User-ID"

// DefaultPageSize is used when a list request has no limit.
const DefaultPageSize = 20

type ctxKey struct{}

// RegisterRoutes mounts the notification endpoints under /notifications and
// the worker script at workerPath on the given router.
func RegisterRoutes(r chi.Router, store *Store, hub *Hub, dispatcher *Dispatcher, workerPath string) {
	if workerPath == "" {
		workerPath = "/sw.js"
	}
	r.Get(workerPath, handleWorkerScript)

	r.Route("/notifications", func(r chi.Router) {
		// The websocket is long-lived, so it is kept out of the timeout group.
		r.Get("/ws", handleWebSocket(hub))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(requireUser)

			r.Get("/", handleList(store))
			r.Post("/", handleCreate(dispatcher))
			r.Get("/unread-count", handleUnreadCount(store))
			r.Put("/read-all", handleMarkAllRead(store))
			r.Post("/push-subscription", handleSaveSubscription(store))
			r.Get("/preferences", handleGetPreferences(store))
			r.Put("/preferences", handleUpdatePreferences(store))
			r.Get("/{id}", handleGetByID(store))
			r.Put("/{id}/read", handleMarkRead(store))
			r.Delete("/{id}", handleDelete(store))
		})
	})
}

// requireUser rejects requests without an identity header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func handleList(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := ListFilter{Limit: DefaultPageSize}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			filter.Limit = n
		}
		if v := q.Get("skip"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
				return
			}
			filter.Skip = n
		}
		if v := q.Get("unread_only"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "unread_only must be a boolean")
				return
			}
			filter.UnreadOnly = b
		}

		list, err := store.List(r.Context(), userFrom(r), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type createRequest struct {
	Type      notifications.NotificationType `json:"type"`
	Priority  notifications.Priority         `json:"priority"`
	Title     string                         `json:"title"`
	Message   string                         `json:"message"`
	Metadata  map[string]string              `json:"metadata"`
	ActionURL string                         `json:"action_url"`
}

func handleCreate(dispatcher *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		if req.Priority != "" && !req.Priority.Valid() {
			writeError(w, http.StatusBadRequest, "unknown priority "+string(req.Priority))
			return
		}

		created, err := dispatcher.Dispatch(r.Context(), userFrom(r), notifications.Notification{
			Type:      req.Type,
			Priority:  req.Priority,
			Title:     req.Title,
			Message:   req.Message,
			Metadata:  req.Metadata,
			ActionURL: req.ActionURL,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetByID(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := store.GetByID(r.Context(), userFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func handleUnreadCount(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := store.UnreadCount(r.Context(), userFrom(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": count})
	}
}

func handleMarkRead(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.MarkRead(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func handleMarkAllRead(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := store.MarkAllRead(r.Context(), userFrom(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
	}
}

func handleDelete(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSaveSubscription(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub notifications.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := store.SaveSubscription(r.Context(), userFrom(r), sub); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
	}
}

func handleGetPreferences(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := store.GetPreferences(r.Context(), userFrom(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	}
}

func handleUpdatePreferences(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update notifications.Preferences
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil || update == nil {
			writeError(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
		prefs, err := store.UpdatePreferences(r.Context(), userFrom(r), update)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	}
}

func handleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		hub.ServeWS(w, r, userID)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notifications.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
