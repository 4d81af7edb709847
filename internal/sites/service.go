package sites

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const (
	logName  = "sites"
	keyBytes = 32
)

// ErrInvalidClient reports client headers that match no active site.
var ErrInvalidClient = &shared.ForbiddenError{Reason: "Invalid client credentials."}

// RepositoryPort defines data access methods for sites.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]Site, int, error)
	Get(ctx context.Context, id int64) (Site, error)
	Create(ctx context.Context, name, key string, status bool) (Site, error)
	Update(ctx context.Context, id int64, name *string, status *bool) (Site, error)
	SetKey(ctx context.Context, id int64, key string) (Site, error)
	Delete(ctx context.Context, id int64) error
}

// Service handles site business logic.
type Service struct {
	repo     RepositoryPort
	gate     *rbac.Gate
	activity shared.ActivityRecorder
	logger   *slog.Logger
	newKey   func() (string, error)
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gate *rbac.Gate, activity shared.ActivityRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, gate: gate, activity: activity, logger: logger, newKey: GenerateKey}
}

// List returns a page of sites.
func (s *Service) List(ctx context.Context, actor rbac.Principal, filters ListFilters) (Page, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermSitesView); err != nil {
		return Page{}, err
	}
	filters.Search = strings.TrimSpace(filters.Search)
	filters.Page, filters.PerPage = shared.NormalizePage(filters.Page, filters.PerPage)
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Site{}
	}
	return Page{Data: items, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// Get returns one site.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id int64) (Site, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermSitesView); err != nil {
		return Site{}, err
	}
	return s.repo.Get(ctx, id)
}

// Create registers a site with a freshly generated key.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, input CreateInput) (Site, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermSitesManage); err != nil {
		return Site{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Site{}, shared.NewValidationError("name", "The name field is required.")
	}
	status := true
	if input.Status != nil {
		status = *input.Status
	}
	key, err := s.newKey()
	if err != nil {
		return Site{}, err
	}
	site, err := s.repo.Create(ctx, name, key, status)
	if err != nil {
		return Site{}, fmt.Errorf("sites: create: %w", err)
	}
	s.record(ctx, actor, "created", site.ID, map[string]any{"name": site.Name, "status": site.Status})
	return site, nil
}

// Update changes name and status.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, input UpdateInput) (Site, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermSitesManage); err != nil {
		return Site{}, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Site{}, shared.NewValidationError("name", "The name field is required.")
		}
		input.Name = &name
	}
	site, err := s.repo.Update(ctx, id, input.Name, input.Status)
	if err != nil {
		return Site{}, err
	}
	s.record(ctx, actor, "updated", site.ID, map[string]any{"name": site.Name, "status": site.Status})
	return site, nil
}

// RotateKey replaces the site key. Clients using the old key are rejected
// immediately.
func (s *Service) RotateKey(ctx context.Context, actor rbac.Principal, id int64) (Site, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermSitesManage); err != nil {
		return Site{}, err
	}
	key, err := s.newKey()
	if err != nil {
		return Site{}, err
	}
	site, err := s.repo.SetKey(ctx, id, key)
	if err != nil {
		return Site{}, err
	}
	s.record(ctx, actor, "key_rotated", site.ID, nil)
	return site, nil
}

// Delete soft deletes a site.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64) error {
	if err := s.gate.Authorize(ctx, actor, rbac.PermSitesManage); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "deleted", id, nil)
	return nil
}

// ValidateClient returns the active site matching the client id and key.
// Missing values yield ErrUnauthenticated; mismatches yield ErrInvalidClient.
func (s *Service) ValidateClient(ctx context.Context, clientID, clientKey string) (Site, error) {
	clientID, clientKey = strings.TrimSpace(clientID), strings.TrimSpace(clientKey)
	if clientID == "" || clientKey == "" {
		return Site{}, shared.ErrUnauthenticated
	}
	id, err := strconv.ParseInt(clientID, 10, 64)
	if err != nil || id <= 0 {
		return Site{}, ErrInvalidClient
	}
	site, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Site{}, ErrInvalidClient
		}
		return Site{}, err
	}
	if !site.Status || subtle.ConstantTimeCompare([]byte(site.Key), []byte(clientKey)) != 1 {
		return Site{}, ErrInvalidClient
	}
	return site, nil
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, event string, id int64, props map[string]any) {
	if s.activity == nil {
		return
	}
	err := s.activity.Record(ctx, shared.ActivityEntry{
		LogName:     logName,
		Event:       event,
		Description: "site " + event,
		SubjectType: "site",
		SubjectID:   id,
		CauserID:    actor.ID,
		Properties:  props,
	})
	if err != nil {
		s.logger.Warn("sites record activity", slog.String("event", event), slog.Any("error", err))
	}
}

// GenerateKey returns a random 64 character hex client key.
func GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sites: generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
