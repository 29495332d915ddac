package recorder

import (
	"context"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
)

// Recorder persists the durable entities of the engine: the ledger itself,
// closed performance snapshots, and risk alerts with their resolution state.
type Recorder interface {
	ledger.Store

	SaveSnapshot(ctx context.Context, snap model.PerformanceSnapshot) error
	LoadSnapshots(ctx context.Context) ([]model.PerformanceSnapshot, error)

	SaveAlert(ctx context.Context, alert model.RiskAlert) error
	LoadAlerts(ctx context.Context) ([]model.RiskAlert, error)

	Close() error
}
