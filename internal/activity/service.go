package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RepositoryPort defines the data access used by Service.
type RepositoryPort interface {
	Window(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service lists and prunes the activity log.
type Service struct {
	repo RepositoryPort
	gate *rbac.Gate
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gate *rbac.Gate) *Service {
	return &Service{repo: repo, gate: gate, now: time.Now}
}

// List returns a page of entries, newest first. HasNext is derived by
// fetching one extra row instead of counting.
func (s *Service) List(ctx context.Context, actor rbac.Principal, filters Filters) (Result, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermActivityView); err != nil {
		return Result{}, err
	}
	if s.repo == nil {
		return Result{}, fmt.Errorf("activity: repository not configured")
	}
	filters.LogName = strings.TrimSpace(filters.LogName)
	filters.Event = strings.TrimSpace(filters.Event)
	filters.Search = strings.TrimSpace(filters.Search)
	filters.SubjectType = strings.TrimSpace(filters.SubjectType)
	filters.BatchUUID = strings.TrimSpace(filters.BatchUUID)
	if filters.BatchUUID != "" {
		id, err := uuid.Parse(filters.BatchUUID)
		if err != nil {
			return Result{}, shared.NewValidationError("batch_uuid", "The batch uuid must be a valid UUID.")
		}
		filters.BatchUUID = id.String()
	}
	if !filters.CreatedFrom.IsZero() && !filters.CreatedTo.IsZero() && filters.CreatedTo.Before(filters.CreatedFrom) {
		return Result{}, shared.NewValidationError("created_to", "The created to date must be on or after created from.")
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.Window(ctx, filters, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Data: rows, Paging: paging}, nil
}

// Prune removes entries older than retention. A non-positive retention
// keeps everything.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.repo.Prune(ctx, s.now().UTC().Add(-retention))
}
