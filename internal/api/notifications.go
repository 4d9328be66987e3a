package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notification"
)

const streamHeartbeat = 30 * time.Second

func listNotificationsHandler(svc *notification.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		limit, err := intParam(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}

		list, err := svc.List(r.Context(), actor.ID, limit)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if list == nil {
			list = []notification.Notification{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func unreadCountHandler(svc *notification.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		n, err := svc.UnreadCount(r.Context(), actor.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, UnreadCountResponse{Count: n})
	}
}

func markReadHandler(svc *notification.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "id must be a valid UUID")
			return
		}

		if err := svc.MarkRead(r.Context(), actor.ID, id); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// streamNotificationsHandler holds a server-sent event stream open for the
// caller and forwards every live notification addressed to them.
func streamNotificationsHandler(svc *notification.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		log := logging.FromContext(r.Context(), logger)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
			return
		}

		updates, err := svc.Subscribe(r.Context(), actor.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		sendEvent(w, "connected", map[string]any{
			"recipient_id": actor.ID,
			"timestamp":    time.Now().UTC(),
		})
		flusher.Flush()

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				log.Debug().Str("recipient_id", actor.ID.String()).Msg("notification stream closed")
				return
			case <-ticker.C:
				sendEvent(w, "heartbeat", map[string]any{"timestamp": time.Now().UTC()})
				flusher.Flush()
			case n, ok := <-updates:
				if !ok {
					log.Debug().Str("recipient_id", actor.ID.String()).Msg("notification subscription closed")
					return
				}
				sendEvent(w, "notification", n)
				flusher.Flush()
			}
		}
	}
}

func sendEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
