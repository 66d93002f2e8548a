package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"livefeed/src/feed"
	"livefeed/src/model"
	"livefeed/src/poller"
)

type marketReader interface {
	Snapshot(name string) (model.Tick, bool)
	Snapshots() map[string]model.Tick
	Status() model.ConnectionStatus
}

type reconnecter interface {
	Reconnect() error
}

type snapshotRefresher interface {
	FetchNow(ctx context.Context, name string) (model.Tick, error)
}

// InstrumentControl adds and drops instruments at runtime, covering
// resolution, stream subscription and polling.
type InstrumentControl interface {
	Subscribe(ctx context.Context, name string) (model.Instrument, error)
	Unsubscribe(ctx context.Context, name string) error
}

type subscribePayload struct {
	Name string `json:"name"`
}

func instrumentParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "name")))
}

func GetSnapshotsHandler(m marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshots())
	}
}

func GetSnapshotHandler(m marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := instrumentParam(r)
		tick, ok := m.Snapshot(name)
		if !ok {
			http.Error(w, "unknown instrument", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, tick)
	}
}

func GetConnectionStatusHandler(m marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	}
}

func ReconnectHandler(m reconnecter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Reconnect(); err != nil {
			if errors.Is(err, feed.ErrNotRunning) {
				http.Error(w, "feed is not running", http.StatusConflict)
				return
			}
			logger.WithError(err).Error("reconnect failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
	}
}

func RefreshSnapshotHandler(p snapshotRefresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := instrumentParam(r)
		tick, err := p.FetchNow(r.Context(), name)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, tick)
		case errors.Is(err, poller.ErrUnknownInstrument):
			http.Error(w, "unknown instrument", http.StatusNotFound)
		case errors.Is(err, model.ErrAuthentication):
			http.Error(w, "venue session unavailable", http.StatusServiceUnavailable)
		case tick.Valid():
			// fetched but older than what the cache holds
			writeJSON(w, http.StatusOK, tick)
		default:
			logger.WithError(err).WithField("instrument", name).Warn("snapshot refresh failed")
			http.Error(w, "snapshot unavailable", http.StatusBadGateway)
		}
	}
}

func SubscribeInstrumentHandler(c InstrumentControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload subscribePayload
		if err := decodeJSON(r, &payload); err != nil || strings.TrimSpace(payload.Name) == "" {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		inst, err := c.Subscribe(r.Context(), strings.ToUpper(strings.TrimSpace(payload.Name)))
		if err != nil {
			if errors.Is(err, model.ErrResolution) || errors.Is(err, model.ErrSubscription) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			logger.WithError(err).Error("subscribe failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, inst)
	}
}

func UnsubscribeInstrumentHandler(c InstrumentControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := instrumentParam(r)
		if err := c.Unsubscribe(r.Context(), name); err != nil {
			if errors.Is(err, model.ErrSubscription) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			logger.WithError(err).Error("unsubscribe failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
