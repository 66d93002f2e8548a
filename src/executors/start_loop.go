package executors

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"livefeed/src/model"
)

// SnapshotSource is the market cache view, usually the feed manager.
type SnapshotSource interface {
	Snapshots() map[string]model.Tick
}

// Revaluer marks open positions to market.
type Revaluer interface {
	Revalue(snapshots map[string]model.Tick) model.RiskMetrics
}

// StartLoop revalues open trades every REVALUE_PERIOD until ctx is done.
func StartLoop(ctx context.Context, source SnapshotSource, target Revaluer) error {
	config := GetConfig()
	return RunLoop(ctx, config.LoopPeriod, source, target)
}

func RunLoop(ctx context.Context, period time.Duration, source SnapshotSource, target Revaluer) error {
	if source == nil || target == nil {
		return errors.New("revalue loop needs a snapshot source and a target")
	}
	if period <= 0 {
		return errors.New("revalue period must be positive")
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var blocked bool
	for {
		select {
		case <-ctx.Done():
			logger.Info("revalue loop stopped")
			return nil

		case <-ticker.C:
			m := target.Revalue(source.Snapshots())
			logger.WithFields(logger.Fields{
				"daily_pnl":       m.DailyPnL.String(),
				"utilization_pct": m.UtilizationPct.String(),
			}).Trace("positions revalued")

			if m.Blocked && !blocked {
				logger.WithField("daily_pnl", m.DailyPnL.String()).Warn("trading is blocked by the daily loss limit")
			}
			blocked = m.Blocked
		}
	}
}
