package academicyears

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const logName = "academic_years"

// RepositoryPort defines data access methods for academic years.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]AcademicYear, int, error)
	Get(ctx context.Context, id int64) (AcademicYear, error)
	Active(ctx context.Context) (AcademicYear, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Lock(ctx context.Context, id int64) (AcademicYear, error)
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	Insert(ctx context.Context, rec Record) (int64, error)
	Update(ctx context.Context, id int64, rec Record) error
	DeactivateOthers(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	RecordActivity(ctx context.Context, entry shared.ActivityEntry) error
}

// Service handles academic year business logic.
type Service struct {
	repo     RepositoryPort
	gate     *rbac.Gate
	activity shared.ActivityRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gate *rbac.Gate, activity shared.ActivityRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, gate: gate, activity: activity, logger: logger, now: time.Now}
}

// List returns a page of academic years.
func (s *Service) List(ctx context.Context, actor rbac.Principal, filters ListFilters) (Page, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsView); err != nil {
		return Page{}, err
	}
	filters.Search = strings.TrimSpace(filters.Search)
	switch filters.Period {
	case "", PeriodUpcoming, PeriodCurrent, PeriodPast:
	default:
		return Page{}, shared.NewValidationError("period", "The selected period is invalid.")
	}
	if filters.On.IsZero() {
		filters.On = NewDate(s.now())
	}
	filters.Page, filters.PerPage = shared.NormalizePage(filters.Page, filters.PerPage)
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []AcademicYear{}
	}
	return Page{Data: items, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// Get returns one academic year.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id int64) (AcademicYear, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsView); err != nil {
		return AcademicYear{}, err
	}
	return s.repo.Get(ctx, id)
}

// Active returns the active academic year, or ErrNotFound when none is.
func (s *Service) Active(ctx context.Context, actor rbac.Principal) (AcademicYear, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsView); err != nil {
		return AcademicYear{}, err
	}
	return s.repo.Active(ctx)
}

// Create stores a new academic year. Creating it active deactivates the others.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, input CreateInput) (AcademicYear, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsManage); err != nil {
		return AcademicYear{}, err
	}
	rec, err := buildRecord(Record{}, input.Name, &input.StartDate, &input.EndDate, input.Description)
	if err != nil {
		return AcademicYear{}, err
	}
	rec.IsActive = input.IsActive != nil && *input.IsActive

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureUniqueName(ctx, tx, rec.Name, 0); err != nil {
			return err
		}
		var err error
		if id, err = tx.Insert(ctx, rec); err != nil {
			return mapUnique(err)
		}
		if rec.IsActive {
			return tx.DeactivateOthers(ctx, id)
		}
		return nil
	})
	if err != nil {
		return AcademicYear{}, err
	}
	s.record(ctx, actor, "created", id, map[string]any{"name": rec.Name})
	if rec.IsActive {
		s.record(ctx, actor, "activated", id, map[string]any{"name": rec.Name})
	}
	return s.repo.Get(ctx, id)
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, input UpdateInput) (AcademicYear, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsManage); err != nil {
		return AcademicYear{}, err
	}
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		base := Record{
			Name:        current.Name,
			StartDate:   current.StartDate,
			EndDate:     current.EndDate,
			Description: current.Description,
		}
		if input.Name != nil {
			base.Name = *input.Name
		}
		if input.Description != nil {
			base.Description = input.Description
		}
		rec, err := buildRecord(base, base.Name, input.StartDate, input.EndDate, base.Description)
		if err != nil {
			return err
		}
		if rec.Name != current.Name {
			if err := ensureUniqueName(ctx, tx, rec.Name, id); err != nil {
				return err
			}
		}
		name = rec.Name
		return mapUnique(tx.Update(ctx, id, rec))
	})
	if err != nil {
		return AcademicYear{}, err
	}
	s.record(ctx, actor, "updated", id, map[string]any{"name": name})
	return s.repo.Get(ctx, id)
}

// Activate makes id the only active academic year. The switch and its
// activity entry share one transaction.
func (s *Service) Activate(ctx context.Context, actor rbac.Principal, id int64) (AcademicYear, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsManage); err != nil {
		return AcademicYear{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeactivateOthers(ctx, id); err != nil {
			return err
		}
		if err := tx.SetActive(ctx, id, true); err != nil {
			return err
		}
		return tx.RecordActivity(ctx, activityEntry(actor, "activated", id, map[string]any{"name": current.Name}))
	})
	if err != nil {
		return AcademicYear{}, err
	}
	return s.repo.Get(ctx, id)
}

// Delete soft deletes an academic year.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64) error {
	if err := s.gate.Authorize(ctx, actor, rbac.PermAcademicYearsManage); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDelete(ctx, id, s.now().UTC())
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "deleted", id, nil)
	return nil
}

// buildRecord overlays the given raw values on base and validates the result.
func buildRecord(base Record, name string, start, end *string, description *string) (Record, error) {
	fields := shared.FieldErrors{}
	rec := base
	rec.Name = strings.TrimSpace(name)
	if rec.Name == "" {
		fields.Add("name", "Academic year name is required.")
	}
	if start != nil {
		rec.StartDate = parseField(fields, "start_date", "Start date", *start)
	}
	if end != nil {
		rec.EndDate = parseField(fields, "end_date", "End date", *end)
	}
	if description != nil {
		desc := strings.TrimSpace(*description)
		if desc == "" {
			rec.Description = nil
		} else {
			rec.Description = &desc
		}
	}
	if len(fields) == 0 && !rec.EndDate.After(rec.StartDate.Time) {
		fields.Add("end_date", "End date must be after start date.")
	}
	if len(fields) > 0 {
		return Record{}, &shared.ValidationError{Fields: fields}
	}
	return rec, nil
}

func parseField(fields shared.FieldErrors, key, label, raw string) Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		fields.Add(key, label+" is required.")
		return Date{}
	}
	d, err := ParseDate(raw)
	if err != nil {
		fields.Add(key, label+" must be a valid date.")
	}
	return d
}

func ensureUniqueName(ctx context.Context, tx TxRepository, name string, excludeID int64) error {
	exists, err := tx.NameExists(ctx, name, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return shared.NewValidationError("name", "This academic year name already exists.")
	}
	return nil
}

func mapUnique(err error) error {
	if db.IsUniqueViolation(err) {
		return shared.NewValidationError("name", "This academic year name already exists.")
	}
	return err
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, event string, id int64, props map[string]any) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, activityEntry(actor, event, id, props)); err != nil {
		s.logger.Warn("academic years record activity", slog.String("event", event), slog.Any("error", err))
	}
}

func activityEntry(actor rbac.Principal, event string, id int64, props map[string]any) shared.ActivityEntry {
	return shared.ActivityEntry{
		LogName:     logName,
		Event:       event,
		Description: event,
		SubjectType: "academic_year",
		SubjectID:   id,
		CauserID:    actor.ID,
		Properties:  props,
	}
}
