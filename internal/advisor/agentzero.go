// Package advisor implements the AI advisory collaborator used to optimize
// execution plans. The advisor is never authoritative: callers time-box the
// call and skip the advisory on any error.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// AgentZeroConfig configures the HTTP advisory client.
type AgentZeroConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// AgentZero calls an external plan-optimization service over HTTP JSON.
type AgentZero struct {
	cfg    AgentZeroConfig
	client *http.Client
	logger *slog.Logger
}

var _ domain.Advisor = (*AgentZero)(nil)

// NewAgentZero creates the HTTP advisory client.
func NewAgentZero(cfg AgentZeroConfig, logger *slog.Logger) *AgentZero {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &AgentZero{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "advisor")),
	}
}

// agentZeroResponse is the service's wire shape.
type agentZeroResponse struct {
	Recommendations struct {
		SizeScale   float64 `json:"size_scale"`
		MaxLegGapMS int64   `json:"max_leg_gap_ms"`
		SellFirst   bool    `json:"sell_first"`
	} `json:"recommendations"`
	AnalysisResults string  `json:"analysis_results"`
	Confidence      float64 `json:"confidence"`
}

// Optimize posts the opportunity and current plan to the service and decodes
// its recommendations. Any transport or decode failure is returned to the
// caller, which treats it as "skip advisory".
func (a *AgentZero) Optimize(ctx context.Context, req domain.AdvisoryRequest) (domain.AdvisoryResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.AdvisoryResult{}, fmt.Errorf("advisor: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL+"/optimize", bytes.NewReader(body))
	if err != nil {
		return domain.AdvisoryResult{}, fmt.Errorf("advisor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return domain.AdvisoryResult{}, fmt.Errorf("advisor: %w", domain.ErrAdvisorUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return domain.AdvisoryResult{}, fmt.Errorf("advisor: unexpected status %d: %w", resp.StatusCode, domain.ErrAdvisorUnavailable)
	}

	var out agentZeroResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.AdvisoryResult{}, fmt.Errorf("advisor: decode response: %w", err)
	}

	res := domain.AdvisoryResult{
		SizeScale:  out.Recommendations.SizeScale,
		MaxLegGap:  time.Duration(out.Recommendations.MaxLegGapMS) * time.Millisecond,
		SellFirst:  out.Recommendations.SellFirst,
		Confidence: out.Confidence,
		Analysis:   out.AnalysisResults,
	}
	a.logger.Debug("advisory received",
		slog.Float64("size_scale", res.SizeScale),
		slog.Float64("confidence", res.Confidence),
	)
	return res, nil
}

// Noop is the guaranteed fallback advisor: it always returns the identity
// recommendation so the plan passes through unchanged.
type Noop struct{}

var _ domain.Advisor = Noop{}

// Optimize returns the identity recommendation.
func (Noop) Optimize(ctx context.Context, req domain.AdvisoryRequest) (domain.AdvisoryResult, error) {
	return domain.AdvisoryResult{SizeScale: 1, Confidence: 0}, nil
}
