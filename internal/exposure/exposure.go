// Package exposure reports a client's open obligations across the loan
// book, feeding the active-loan and outstanding-balance fields of rule
// evaluation.
package exposure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

// cacheTTL bounds how stale a cached exposure snapshot may be. Exposure
// feeds rule fields, not the decision ledger, so a short staleness window
// is acceptable.
const cacheTTL = 30 * time.Second

// Service computes client exposure from the repository, with a short
// cache in front for repeated lookups within one burst of assessments.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates an exposure service. The cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// GetExposure returns the client's active loan count and total
// outstanding principal.
func (s *Service) GetExposure(ctx context.Context, tenantID, clientID string) (*domain.ClientExposure, error) {
	if tenantID == "" || clientID == "" {
		return nil, fmt.Errorf("tenantID and clientID are required")
	}

	if cached := s.fromCache(ctx, tenantID, clientID); cached != nil {
		return cached, nil
	}

	exp, err := s.repo.GetClientExposure(ctx, tenantID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client exposure: %w", err)
	}

	s.toCache(ctx, tenantID, clientID, exp)
	return exp, nil
}

func (s *Service) fromCache(ctx context.Context, tenantID, clientID string) *domain.ClientExposure {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, tenantID, "exposure:"+clientID)
	if err != nil || data == nil {
		return nil
	}
	var exp domain.ClientExposure
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil
	}
	return &exp
}

func (s *Service) toCache(ctx context.Context, tenantID, clientID string, exp *domain.ClientExposure) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(exp)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, tenantID, "exposure:"+clientID, data, cacheTTL)
}
