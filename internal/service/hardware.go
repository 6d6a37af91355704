package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/hwtype"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

// TypeRegistry is the view of the hardware type registry the service needs.
// *hwtype.Registry satisfies it.
type TypeRegistry interface {
	Names() []string
	Lookup(name string) (*hwtype.HardwareType, error)
	Fields(name string) ([]worker.Field, error)
	Validate(name string, properties map[string]any) (map[string]any, error)
	Resolve(hw *hardware.Hardware) ([]string, error)
	Worker(name string) (worker.Worker, bool)
}

// ReadinessCheck reports whether a backing store can serve requests.
type ReadinessCheck func(ctx context.Context) error

// ServiceOption configures the hardware service
type ServiceOption func(*hardwareService)

// WithReadinessCheck adds a check run by CheckReadiness
func WithReadinessCheck(check ReadinessCheck) ServiceOption {
	return func(s *hardwareService) {
		s.checks = append(s.checks, check)
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) ServiceOption {
	return func(s *hardwareService) {
		s.now = now
	}
}

type hardwareService struct {
	hw     hardware.Store
	states *state.Service
	types  TypeRegistry
	checks []ReadinessCheck
	now    func() time.Time
}

var _ HardwareService = (*hardwareService)(nil)

// New creates a HardwareService over the given stores and registry.
func New(hw hardware.Store, states *state.Service, types TypeRegistry, opts ...ServiceOption) HardwareService {
	s := &hardwareService{
		hw:     hw,
		states: states,
		types:  types,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *hardwareService) CheckReadiness(ctx context.Context) error {
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("storage not ready: %w", err)
		}
	}
	return nil
}

func (s *hardwareService) ListHardware(
	ctx context.Context, opts ...Option[ListHardwareOptions],
) ([]*hardware.Hardware, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return s.hw.List(ctx, hardware.ListOptions{
		IncludeDeleted: o.IncludeDeleted,
		ProjectID:      o.ProjectID,
	})
}

func (s *hardwareService) GetHardware(ctx context.Context, id uuid.UUID) (*hardware.Hardware, error) {
	hw, err := s.hw.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if hw.Deleted() {
		return nil, fmt.Errorf("%w: %s", hardware.ErrNotFound, id)
	}
	return hw, nil
}

func (s *hardwareService) CreateHardware(
	ctx context.Context, opts ...Option[CreateHardwareOptions],
) (*hardware.Hardware, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if o.HardwareType == "" {
		return nil, fmt.Errorf("%w: hardware_type is required", ErrInvalidRequest)
	}
	t, err := s.types.Lookup(o.HardwareType)
	if err != nil {
		return nil, err
	}
	for _, w := range o.Workers {
		if !slices.Contains(t.DefaultWorkers, w) {
			return nil, fmt.Errorf("%w: worker %s does not handle hardware type %s", ErrInvalidRequest, w, t.Name)
		}
	}
	props, err := s.types.Validate(o.HardwareType, o.Properties)
	if err != nil {
		return nil, err
	}

	id := o.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := s.now().UTC()
	hw := &hardware.Hardware{
		ID:         id,
		Name:       o.Name,
		Type:       o.HardwareType,
		ProjectID:  o.ProjectID,
		Properties: props,
		Workers:    o.Workers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.hw.Create(ctx, hw); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Enrolled hardware", "hardware_id", hw.ID, "hardware_type", hw.Type, "name", hw.Name)

	s.trackWorkers(ctx, hw)
	return hw, nil
}

// trackWorkers creates the worker state records of a new hardware record so
// they are visible before the next reconcile cycle. Failures are left for the
// cycle to repair.
func (s *hardwareService) trackWorkers(ctx context.Context, hw *hardware.Hardware) {
	names, err := s.types.Resolve(hw)
	if err != nil {
		slog.WarnContext(ctx, "Failed to resolve workers for new hardware", "hardware_id", hw.ID, "error", err)
		return
	}
	for _, name := range names {
		key := state.Key{HardwareID: hw.ID, WorkerType: name}
		if _, err := s.states.Ensure(ctx, key); err != nil {
			slog.WarnContext(ctx, "Failed to create worker state", "key", key.String(), "error", err)
		}
	}
}

func (s *hardwareService) UpdateHardware(
	ctx context.Context, id uuid.UUID, opts ...Option[UpdateHardwareOptions],
) (*hardware.Hardware, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	current, err := s.GetHardware(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if o.Name != nil {
		next.Name = *o.Name
	}
	if o.ProjectID != nil {
		next.ProjectID = *o.ProjectID
	}
	if o.Properties != nil {
		next.Properties = maps.Clone(o.Properties)
	}
	if next.Properties == nil {
		next.Properties = map[string]any{}
	}
	for k, v := range o.PropertyUpdates {
		if v == nil {
			delete(next.Properties, k)
			continue
		}
		next.Properties[k] = v
	}

	props, err := s.types.Validate(next.Type, next.Properties)
	if err != nil {
		return nil, err
	}
	next.Properties = props
	next.UpdatedAt = s.now().UTC()

	if err := s.hw.Update(ctx, next); err != nil {
		return nil, err
	}

	n, err := s.states.Invalidate(ctx, id)
	if err != nil {
		// The update is committed. The next recheck picks up the change.
		slog.WarnContext(ctx, "Failed to re-queue workers after update", "hardware_id", id, "error", err)
	}
	slog.InfoContext(ctx, "Updated hardware", "hardware_id", id, "requeued_workers", n)
	return next, nil
}

func (s *hardwareService) DeleteHardware(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetHardware(ctx, id); err != nil {
		return err
	}
	if err := s.hw.Delete(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Deleted hardware", "hardware_id", id)
	return nil
}

func (s *hardwareService) ListWorkerStates(ctx context.Context, id uuid.UUID) ([]*state.WorkerState, error) {
	if _, err := s.GetHardware(ctx, id); err != nil {
		return nil, err
	}
	return s.states.ListByHardware(ctx, id)
}

func (s *hardwareService) ResetWorker(ctx context.Context, id uuid.UUID, workerType string) (*state.WorkerState, error) {
	if _, err := s.GetHardware(ctx, id); err != nil {
		return nil, err
	}
	ws, err := s.states.Reset(ctx, state.Key{HardwareID: id, WorkerType: workerType})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Reset worker state", "hardware_id", id, "worker_type", workerType)
	return ws, nil
}

func (s *hardwareService) ListHardwareTypes(_ context.Context) []HardwareTypeInfo {
	names := s.types.Names()
	out := make([]HardwareTypeInfo, 0, len(names))
	for _, name := range names {
		t, err := s.types.Lookup(name)
		if err != nil {
			continue
		}
		fields, _ := s.types.Fields(name)
		info := HardwareTypeInfo{
			Name:        t.Name,
			Description: t.Description,
			Workers:     []string{},
			Fields:      make([]FieldInfo, 0, len(fields)),
		}
		for _, w := range t.DefaultWorkers {
			if _, ok := s.types.Worker(w); ok {
				info.Workers = append(info.Workers, w)
			}
		}
		for _, f := range fields {
			info.Fields = append(info.Fields, FieldInfo{
				Name:        f.Name,
				Description: f.Description,
				Schema:      f.Schema,
				Default:     f.Default,
				Required:    f.Required,
				Private:     f.Private,
				Sensitive:   f.Sensitive,
			})
		}
		out = append(out, info)
	}
	return out
}

func (s *hardwareService) Fields(hardwareType string) ([]worker.Field, error) {
	return s.types.Fields(hardwareType)
}

func (s *hardwareService) SensitiveDetails(workerType string) []string {
	w, ok := s.types.Worker(workerType)
	if !ok {
		return nil
	}
	if m, ok := w.(worker.DetailMasker); ok {
		return m.SensitiveDetails()
	}
	return nil
}

func (s *hardwareService) Import(
	ctx context.Context, workerType string, opts ...Option[ImportOptions],
) (*ImportResult, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	w, ok := s.types.Worker(workerType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", worker.ErrUnknownWorker, workerType)
	}
	importer, ok := w.(worker.Importer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImporter, workerType)
	}

	items, err := importer.ImportExisting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s resources: %w", workerType, err)
	}
	slog.InfoContext(ctx, "Listed importable resources", "worker_type", workerType, "count", len(items))

	result := &ImportResult{Created: []*hardware.Hardware{}, Skipped: []ImportSkip{}}
	for _, item := range items {
		skip := func(reason string) {
			result.Skipped = append(result.Skipped, ImportSkip{ID: item.ID, Name: item.Name, Reason: reason})
			slog.InfoContext(ctx, "Skipping import", "uuid", item.ID, "name", item.Name, "reason", reason)
		}

		id, err := uuid.Parse(item.ID)
		if err != nil {
			skip("backend id is not a UUID")
			continue
		}
		if _, err := s.hw.Get(ctx, id); err == nil {
			skip("already enrolled")
			continue
		} else if !errors.Is(err, hardware.ErrNotFound) {
			return result, err
		}

		createOpts := []Option[CreateHardwareOptions]{
			WithID(id),
			WithName[CreateHardwareOptions](item.Name),
			WithHardwareType(item.HardwareType),
			WithProjectID[CreateHardwareOptions](item.ProjectID),
			WithProperties[CreateHardwareOptions](item.Properties),
		}
		if o.DryRun {
			if _, err := applyOptions(createOpts); err != nil {
				skip(err.Error())
				continue
			}
			if _, err := s.types.Validate(item.HardwareType, item.Properties); err != nil {
				skip(err.Error())
				continue
			}
			result.Created = append(result.Created, &hardware.Hardware{
				ID: id, Name: item.Name, Type: item.HardwareType, ProjectID: item.ProjectID, Properties: item.Properties,
			})
			continue
		}

		hw, err := s.CreateHardware(ctx, createOpts...)
		switch {
		case errors.Is(err, ErrInvalidRequest), errors.Is(err, hwtype.ErrInvalidProperties),
			errors.Is(err, hwtype.ErrUnknownType), errors.Is(err, hardware.ErrAlreadyExists),
			errors.Is(err, hardware.ErrDuplicateName):
			skip(err.Error())
		case err != nil:
			return result, err
		default:
			result.Created = append(result.Created, hw)
		}
	}
	return result, nil
}
