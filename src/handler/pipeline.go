package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"livefeed/src/auth"
	"livefeed/src/model"
	"livefeed/src/pipeline"
)

const defaultAuditLimit = 50

type pipelineReader interface {
	AuditTrail(limit int) []model.PipelineEvent
	AgentStatuses() []model.AgentStatus
	Trades() []model.Trade
	RiskMetrics() model.RiskMetrics
	Mode() model.ExecutionMode
}

type modeSetter interface {
	Mode() model.ExecutionMode
	SetMode(mode model.ExecutionMode) error
}

type riskResetter interface {
	ResetRisk() model.RiskMetrics
}

type squareOffer interface {
	SquareOffAll(ctx context.Context, snapshots map[string]model.Tick) ([]model.Trade, error)
}

type snapshotLister interface {
	Snapshots() map[string]model.Tick
}

type modePayload struct {
	Mode string `json:"mode"`
}

type riskResponse struct {
	model.RiskMetrics
	Mode model.ExecutionMode `json:"execution_mode"`
}

// GetAuditTrailHandler lists the newest events, oldest first. limit defaults to 50.
func GetAuditTrailHandler(p pipelineReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultAuditLimit
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		writeJSON(w, http.StatusOK, p.AuditTrail(limit))
	}
}

func GetAgentStatusesHandler(p pipelineReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.AgentStatuses())
	}
}

func GetTradesHandler(p pipelineReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Trades())
	}
}

func GetRiskMetricsHandler(p pipelineReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, riskResponse{RiskMetrics: p.RiskMetrics(), Mode: p.Mode()})
	}
}

func SetExecutionModeHandler(p modeSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload modePayload
		if err := decodeJSON(r, &payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		mode, err := model.ParseExecutionMode(payload.Mode)
		if err != nil {
			http.Error(w, "invalid mode, valid modes: MOCK, SIMULATION, PAPER, LIVE", http.StatusBadRequest)
			return
		}

		previous := p.Mode()
		if err := p.SetMode(mode); err != nil {
			if errors.Is(err, pipeline.ErrLiveUnavailable) {
				http.Error(w, err.Error(), http.StatusPreconditionFailed)
				return
			}
			logger.WithError(err).Error("mode switch failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		operator, _ := auth.GetOperatorFromContext(r.Context())
		logger.WithFields(logger.Fields{"from": previous, "to": mode, "operator": operator}).Info("mode switch requested")
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode), "previous_mode": string(previous)})
	}
}

func ResetRiskHandler(p riskResetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.ResetRisk())
	}
}

func SquareOffHandler(p squareOffer, m snapshotLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		closed, err := p.SquareOffAll(r.Context(), m.Snapshots())
		if err != nil {
			logger.WithError(err).Error("square off incomplete")
			writeJSON(w, http.StatusBadGateway, map[string]any{"closed": closed, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"closed": closed})
	}
}
