// Package audit exposes the read side of the audit trail written by
// shared.AuditLogger.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Entry is a single audit trail record.
type Entry struct {
	ID       string         `json:"id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Filters narrows a trail listing.
type Filters struct {
	Entity   string
	Action   string
	EntityID string
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

// Result bundles a page of entries with paging metadata.
type Result struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

// Repository reads audit_logs.
type Repository interface {
	List(ctx context.Context, filters Filters) ([]Entry, error)
	Count(ctx context.Context, filters Filters) (int, error)
}

// Service coordinates audit trail reads.
type Service struct {
	repo Repository
}

// NewService creates an audit trail service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Trail returns one page of the audit trail, newest first.
func (s *Service) Trail(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if filters.PerPage <= 0 {
		filters.PerPage = 20
	}
	if filters.PerPage > 50 {
		filters.PerPage = 50
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}

	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return Result{}, err
	}
	entries, err := s.repo.List(ctx, filters)
	if err != nil {
		return Result{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Result{
		Entries:    entries,
		Pagination: shared.NewPagination(filters.Page, filters.PerPage, total),
	}, nil
}
