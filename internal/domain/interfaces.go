package domain

import (
	"context"
	"time"
)

// BarStore is the read interface over ingested daily data. The engine
// never writes through it; ingestion is an external collaborator.
//
// GetBars returns the ordered bar sequence for a ticker between from and
// to inclusive, strictly increasing by date. An unknown ticker fails with
// ErrDataUnavailable.
type BarStore interface {
	GetBars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error)
	Tickers(ctx context.Context) ([]string, error)
}

// ExecutionClient is the write interface to the broker-execution
// collaborator. Submit must respect the context deadline; the engine
// wraps deadline overruns in ExecutionTimeoutError and aborts only the
// affected profile's cycle.
type ExecutionClient interface {
	Submit(ctx context.Context, plan OrderPlan) ([]Fill, error)
}
