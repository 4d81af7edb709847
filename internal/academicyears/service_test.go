package academicyears

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
	_ "github.com/openkz/admin-api/testing"
)

type memoryRepo struct {
	years   map[int64]AcademicYear
	deleted map[int64]bool
	nextID  int64
	failOn  string
	// txEvents holds activity written through a transaction.
	txEvents []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{years: map[int64]AcademicYear{}, deleted: map[int64]bool{}}
}

func (m *memoryRepo) List(_ context.Context, f ListFilters) ([]AcademicYear, int, error) {
	var out []AcademicYear
	for id := int64(1); id <= m.nextID; id++ {
		y, ok := m.years[id]
		if !ok || m.deleted[id] {
			continue
		}
		if f.Active != nil && y.IsActive != *f.Active {
			continue
		}
		switch f.Period {
		case PeriodUpcoming:
			if !y.StartDate.After(f.On.Time) {
				continue
			}
		case PeriodPast:
			if !y.EndDate.Before(f.On.Time) {
				continue
			}
		case PeriodCurrent:
			if y.StartDate.After(f.On.Time) || y.EndDate.Before(f.On.Time) {
				continue
			}
		}
		out = append(out, y)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (AcademicYear, error) {
	y, ok := m.years[id]
	if !ok || m.deleted[id] {
		return AcademicYear{}, shared.ErrNotFound
	}
	return y, nil
}

func (m *memoryRepo) Active(_ context.Context) (AcademicYear, error) {
	for id, y := range m.years {
		if y.IsActive && !m.deleted[id] {
			return y, nil
		}
	}
	return AcademicYear{}, shared.ErrNotFound
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	years, deleted, next := maps.Clone(m.years), maps.Clone(m.deleted), m.nextID
	if err := fn(ctx, memoryTx{m}); err != nil {
		m.years, m.deleted, m.nextID = years, deleted, next
		return err
	}
	return nil
}

type memoryTx struct{ m *memoryRepo }

func (t memoryTx) Lock(ctx context.Context, id int64) (AcademicYear, error) {
	return t.m.Get(ctx, id)
}

func (t memoryTx) NameExists(_ context.Context, name string, excludeID int64) (bool, error) {
	for id, y := range t.m.years {
		if y.Name == name && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (t memoryTx) Insert(_ context.Context, rec Record) (int64, error) {
	t.m.nextID++
	id := t.m.nextID
	t.m.years[id] = AcademicYear{
		ID:           id,
		Name:         rec.Name,
		StartDate:    rec.StartDate,
		EndDate:      rec.EndDate,
		IsActive:     rec.IsActive,
		Description:  rec.Description,
		DurationDays: durationDays(rec.StartDate, rec.EndDate),
	}
	return id, nil
}

func (t memoryTx) Update(_ context.Context, id int64, rec Record) error {
	y := t.m.years[id]
	y.Name, y.StartDate, y.EndDate, y.Description = rec.Name, rec.StartDate, rec.EndDate, rec.Description
	y.DurationDays = durationDays(rec.StartDate, rec.EndDate)
	t.m.years[id] = y
	return nil
}

func (t memoryTx) DeactivateOthers(_ context.Context, id int64) error {
	for other, y := range t.m.years {
		if other != id {
			y.IsActive = false
			t.m.years[other] = y
		}
	}
	return nil
}

func (t memoryTx) SetActive(_ context.Context, id int64, active bool) error {
	if t.m.failOn == "activate" {
		return context.DeadlineExceeded
	}
	y := t.m.years[id]
	y.IsActive = active
	t.m.years[id] = y
	return nil
}

func (t memoryTx) RecordActivity(_ context.Context, e shared.ActivityEntry) error {
	if t.m.failOn == "activity" {
		return context.DeadlineExceeded
	}
	t.m.txEvents = append(t.m.txEvents, e.Event)
	return nil
}

func (t memoryTx) SoftDelete(_ context.Context, id int64, _ time.Time) error {
	if _, ok := t.m.years[id]; !ok || t.m.deleted[id] {
		return shared.ErrNotFound
	}
	t.m.deleted[id] = true
	return nil
}

type recordingActivity struct{ events []string }

func (r *recordingActivity) Record(_ context.Context, e shared.ActivityEntry) error {
	r.events = append(r.events, e.Event)
	return nil
}

type staticRoles map[string][]rbac.Permission

// RolePermissions reports built-in names as seeded rows.
func (s staticRoles) RolePermissions(_ context.Context, _ string, roles []string) (rbac.RoleGrants, error) {
	var out rbac.RoleGrants
	for _, r := range roles {
		out.Permissions = append(out.Permissions, s[r]...)
		if slices.Contains(rbac.BuiltinRoles(), r) {
			out.Builtin = append(out.Builtin, r)
		}
	}
	return out, nil
}

var (
	manager = rbac.Principal{ID: 1, Guard: "web", Roles: []rbac.GuardedName{{Name: "registrar", Guard: "web"}}}
	viewer  = rbac.Principal{ID: 2, Guard: "web", Roles: []rbac.GuardedName{{Name: rbac.RoleUser, Guard: "web"}}}
)

func newTestService() (*Service, *memoryRepo, *recordingActivity) {
	repo := newMemoryRepo()
	activity := &recordingActivity{}
	gate := rbac.NewGate(rbac.NewResolver(staticRoles{
		"registrar": {rbac.PermAcademicYearsView, rbac.PermAcademicYearsManage},
	}, "web"), nil)
	svc := NewService(repo, gate, activity, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return svc, repo, activity
}

func create(t *testing.T, svc *Service, name, start, end string, active bool) AcademicYear {
	t.Helper()
	y, err := svc.Create(context.Background(), manager, CreateInput{Name: name, StartDate: start, EndDate: end, IsActive: &active})
	require.NoError(t, err)
	return y
}

func TestCreateValidates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	create(t, svc, "2024/2025", "2024-07-01", "2025-06-30", false)

	_, err := svc.Create(ctx, manager, CreateInput{Name: "2024/2025", StartDate: "2025-07-01", EndDate: "2026-06-30"})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"This academic year name already exists."}, verr.Fields["name"])

	_, err = svc.Create(ctx, manager, CreateInput{Name: "2025/2026", StartDate: "2026-06-30", EndDate: "2025-07-01"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"End date must be after start date."}, verr.Fields["end_date"])

	_, err = svc.Create(ctx, manager, CreateInput{Name: " ", StartDate: "", EndDate: "nope"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"Academic year name is required."}, verr.Fields["name"])
	require.Equal(t, []string{"Start date is required."}, verr.Fields["start_date"])
	require.Equal(t, []string{"End date must be a valid date."}, verr.Fields["end_date"])
}

func TestActivateKeepsSingleActive(t *testing.T) {
	svc, repo, activity := newTestService()
	ctx := context.Background()
	first := create(t, svc, "2023/2024", "2023-07-01", "2024-06-30", true)
	second := create(t, svc, "2024/2025", "2024-07-01", "2025-06-30", true)
	recorded := len(activity.events)

	active, err := svc.Active(ctx, viewer)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)

	_, err = svc.Activate(ctx, manager, first.ID)
	require.NoError(t, err)
	page, err := svc.List(ctx, manager, ListFilters{Active: ptr(true)})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, first.ID, page.Data[0].ID)
	require.Equal(t, []string{"activated"}, repo.txEvents)
	require.Len(t, activity.events, recorded)
}

func TestActivateRollsBack(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	first := create(t, svc, "2023/2024", "2023-07-01", "2024-06-30", true)
	second := create(t, svc, "2024/2025", "2024-07-01", "2025-06-30", false)

	for _, step := range []string{"activate", "activity"} {
		repo.failOn = step
		_, err := svc.Activate(ctx, manager, second.ID)
		require.Error(t, err, step)

		active, err := svc.Active(ctx, manager)
		require.NoError(t, err)
		require.Equal(t, first.ID, active.ID, step)
	}
	require.Empty(t, repo.txEvents)
}

func TestUpdateAndPeriods(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	past := create(t, svc, "2023/2024", "2023-07-01", "2024-06-30", false)
	current := create(t, svc, "2024/2025", "2024-07-01", "2025-06-30", false)
	create(t, svc, "2025/2026", "2025-07-01", "2026-06-30", false)

	for period, want := range map[string]int64{PeriodPast: past.ID, PeriodCurrent: current.ID} {
		page, err := svc.List(ctx, viewer, ListFilters{Period: period})
		require.NoError(t, err)
		require.Len(t, page.Data, 1, period)
		require.Equal(t, want, page.Data[0].ID, period)
	}
	_, err := svc.List(ctx, viewer, ListFilters{Period: "someday"})
	require.ErrorIs(t, err, shared.ErrValidation)

	end := "2024-05-31"
	updated, err := svc.Update(ctx, manager, past.ID, UpdateInput{EndDate: &end})
	require.NoError(t, err)
	require.Equal(t, "2024-05-31", updated.EndDate.Format(DateLayout))
	require.Equal(t, 335, updated.DurationDays)

	before := "2023-01-01"
	_, err = svc.Update(ctx, manager, past.ID, UpdateInput{EndDate: &before})
	require.ErrorIs(t, err, shared.ErrValidation)

	taken := "2024/2025"
	_, err = svc.Update(ctx, manager, past.ID, UpdateInput{Name: &taken})
	require.ErrorIs(t, err, shared.ErrValidation)

	raw, err := json.Marshal(updated)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"start_date":"2023-07-01"`)
}

func TestPermissionsAndDelete(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	y := create(t, svc, "2024/2025", "2024-07-01", "2025-06-30", true)

	_, err := svc.Get(ctx, viewer, y.ID)
	require.NoError(t, err)
	_, err = svc.Activate(ctx, viewer, y.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, viewer, y.ID), shared.ErrForbidden)
	_, err = svc.Get(ctx, rbac.Principal{}, y.ID)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	require.NoError(t, svc.Delete(ctx, manager, y.ID))
	_, err = svc.Active(ctx, viewer)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, manager, y.ID), shared.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
