// Package execution provides clients for the broker-execution
// collaborator: an HTTP client for the real service and a paper client
// that fills every order, used by the backtest driver and tests.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
)

// Client submits order plans to the execution service over HTTP. The
// engine bounds every call with a deadline; the client propagates the
// context so an overrun surfaces as context.DeadlineExceeded.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a new execution HTTP client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		log:     log.With().Str("component", "execution_client").Logger(),
	}
}

// Submit posts the plan and decodes the fills. Fill statuses other than
// confirmed are passed through for the scheduler to reconcile.
func (c *Client) Submit(ctx context.Context, plan domain.OrderPlan) ([]domain.Fill, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan %s: %w", plan.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Context errors (deadline, cancel) come back wrapped in a
		// url.Error; unwrap via ctx so callers can errors.Is them.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to submit plan %s: %w", plan.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execution service returned %d for plan %s", resp.StatusCode, plan.ID)
	}

	var fills []domain.Fill
	if err := json.NewDecoder(resp.Body).Decode(&fills); err != nil {
		return nil, fmt.Errorf("failed to decode fills for plan %s: %w", plan.ID, err)
	}

	c.log.Info().
		Str("plan_id", plan.ID).
		Str("profile", string(plan.Profile)).
		Int("fills", len(fills)).
		Msg("Plan submitted")
	return fills, nil
}

// PaperClient confirms every order at its planned delta. Used by the
// backtest driver and anywhere a real execution service is absent.
type PaperClient struct{}

// NewPaperClient creates a new paper execution client
func NewPaperClient() *PaperClient {
	return &PaperClient{}
}

// Submit fills each order fully and immediately.
func (c *PaperClient) Submit(_ context.Context, plan domain.OrderPlan) ([]domain.Fill, error) {
	fills := make([]domain.Fill, 0, len(plan.Orders))
	for _, o := range plan.Orders {
		fills = append(fills, domain.Fill{
			Ticker:        o.Ticker,
			Profile:       o.Profile,
			ExecutedDelta: o.WeightDelta,
			Status:        domain.FillConfirmed,
		})
	}
	return fills, nil
}
