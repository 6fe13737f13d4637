// Package plans fetches the insurance plan catalogue from the backend.
package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"okoapay/internal/pkg/httpclient"
)

// Plan is one insurance product. Monetary fields arrive in cents.
type Plan struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Slug                string `json:"slug,omitempty"`
	Description         string `json:"description"`
	PremiumAmountCents  int64  `json:"premium_amount"`
	PremiumFrequency    string `json:"premium_frequency"`
	CoverageAmountCents int64  `json:"coverage_amount"`
	GracePeriodDays     int    `json:"grace_period_days"`
	IsActive            bool   `json:"is_active"`
}

// Service reads the plan catalogue.
type Service struct {
	http   *httpclient.Client
	logger *zap.Logger
}

// NewService creates a catalogue client against the backend API base URL.
func NewService(baseURL string, logger *zap.Logger) *Service {
	return &Service{
		http: httpclient.New().
			WithBaseURL(baseURL).
			WithTimeout(15 * time.Second),
		logger: logger,
	}
}

// List returns all plans, optionally only the active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Plan, error) {
	path := "/plans"
	if activeOnly {
		path += "?active_only=" + url.QueryEscape("true")
	}

	resp, err := s.http.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch plans: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch plans: unexpected status %d", resp.StatusCode())
	}

	var out struct {
		Plans []Plan `json:"plans"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	return out.Plans, nil
}

// Get returns a single plan by ID.
func (s *Service) Get(ctx context.Context, id string) (*Plan, error) {
	resp, err := s.http.Get(ctx, "/plans/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("fetch plan %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch plan %s: unexpected status %d", id, resp.StatusCode())
	}

	var out struct {
		Plan *Plan `json:"plan"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", id, err)
	}
	if out.Plan == nil {
		return nil, fmt.Errorf("plan %s not found", id)
	}
	return out.Plan, nil
}

// FindBySlug scans the active plans for a slug match. A nil plan with a
// nil error means no active plan carries the slug.
func (s *Service) FindBySlug(ctx context.Context, slug string) (*Plan, error) {
	list, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Slug == slug {
			return &list[i], nil
		}
	}
	return nil, nil
}
