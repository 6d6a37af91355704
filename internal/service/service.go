// Package service provides the business logic behind the doni REST API and CLI
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

var (
	// ErrInvalidRequest is returned when a request is malformed or names an
	// immutable field
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotImporter is returned when importing from a worker that cannot list
	// backend resources
	ErrNotImporter = errors.New("worker does not support import")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go HardwareService

// HardwareService defines the interface for hardware enrollment operations
type HardwareService interface {
	// CheckReadiness checks if the service is ready to serve requests
	CheckReadiness(ctx context.Context) error

	// ListHardware returns enrolled hardware ordered by creation time
	ListHardware(ctx context.Context, opts ...Option[ListHardwareOptions]) ([]*hardware.Hardware, error)

	// GetHardware returns one live hardware record
	GetHardware(ctx context.Context, id uuid.UUID) (*hardware.Hardware, error)

	// CreateHardware validates and enrolls a new hardware record
	CreateHardware(ctx context.Context, opts ...Option[CreateHardwareOptions]) (*hardware.Hardware, error)

	// UpdateHardware changes a hardware record and re-queues its synced workers
	UpdateHardware(ctx context.Context, id uuid.UUID, opts ...Option[UpdateHardwareOptions]) (*hardware.Hardware, error)

	// DeleteHardware soft-deletes a hardware record
	DeleteHardware(ctx context.Context, id uuid.UUID) error

	// ListWorkerStates returns the worker state records of a hardware record
	ListWorkerStates(ctx context.Context, id uuid.UUID) ([]*state.WorkerState, error)

	// ResetWorker returns a worker state record to PENDING
	ResetWorker(ctx context.Context, id uuid.UUID, workerType string) (*state.WorkerState, error)

	// ListHardwareTypes describes the enabled hardware types
	ListHardwareTypes(ctx context.Context) []HardwareTypeInfo

	// Fields returns the properties a hardware type accepts
	Fields(hardwareType string) ([]worker.Field, error)

	// SensitiveDetails returns the state detail keys a worker keeps secrets in
	SensitiveDetails(workerType string) []string

	// Import enrolls the backend resources reported by an importing worker
	Import(ctx context.Context, workerType string, opts ...Option[ImportOptions]) (*ImportResult, error)
}

// Option is a function that sets an option for the ListHardwareOptions,
// CreateHardwareOptions, UpdateHardwareOptions or ImportOptions
type Option[
	T ListHardwareOptions | CreateHardwareOptions | UpdateHardwareOptions | ImportOptions,
] func(*T) error

// ListHardwareOptions is the options for the ListHardware operation
type ListHardwareOptions struct {
	ProjectID      string
	IncludeDeleted bool
}

// CreateHardwareOptions is the options for the CreateHardware operation
type CreateHardwareOptions struct {
	ID           uuid.UUID
	Name         string
	HardwareType string
	ProjectID    string
	Properties   map[string]any
	Workers      []string
}

// UpdateHardwareOptions is the options for the UpdateHardware operation
type UpdateHardwareOptions struct {
	Name      *string
	ProjectID *string
	// Properties replaces every property when set
	Properties map[string]any
	// PropertyUpdates are merged into the current properties. A nil value
	// removes the key.
	PropertyUpdates map[string]any
}

// ImportOptions is the options for the Import operation
type ImportOptions struct {
	DryRun bool
}

// HardwareTypeInfo describes an enabled hardware type
type HardwareTypeInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Workers     []string    `json:"workers"`
	Fields      []FieldInfo `json:"fields"`
}

// FieldInfo describes one property of a hardware type
type FieldInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Default     any            `json:"default,omitempty"`
	Required    bool           `json:"required"`
	Private     bool           `json:"private"`
	Sensitive   bool           `json:"sensitive"`
}

// ImportResult reports what an import enrolled
type ImportResult struct {
	Created []*hardware.Hardware `json:"created"`
	Skipped []ImportSkip         `json:"skipped"`
}

// ImportSkip names a backend resource that was not enrolled
type ImportSkip struct {
	ID     string `json:"uuid"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// WithProjectID sets the owning project for the ListHardware, CreateHardware
// or UpdateHardware operation
func WithProjectID[T ListHardwareOptions | CreateHardwareOptions | UpdateHardwareOptions](projectID string) Option[T] {
	return func(o *T) error {
		switch o := any(o).(type) {
		case *ListHardwareOptions:
			if projectID == "" {
				return fmt.Errorf("invalid project id: %s", projectID)
			}
			o.ProjectID = projectID
		case *CreateHardwareOptions:
			o.ProjectID = projectID
		case *UpdateHardwareOptions:
			o.ProjectID = &projectID
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
		return nil
	}
}

// WithName sets the hardware name for the CreateHardware or UpdateHardware operation
func WithName[T CreateHardwareOptions | UpdateHardwareOptions](name string) Option[T] {
	return func(o *T) error {
		if name == "" {
			return fmt.Errorf("%w: name cannot be empty", ErrInvalidRequest)
		}
		switch o := any(o).(type) {
		case *CreateHardwareOptions:
			o.Name = name
		case *UpdateHardwareOptions:
			o.Name = &name
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
		return nil
	}
}

// WithProperties sets the hardware properties for the CreateHardware or
// UpdateHardware operation. On update it replaces every property.
func WithProperties[T CreateHardwareOptions | UpdateHardwareOptions](properties map[string]any) Option[T] {
	return func(o *T) error {
		if properties == nil {
			properties = map[string]any{}
		}
		switch o := any(o).(type) {
		case *CreateHardwareOptions:
			o.Properties = properties
		case *UpdateHardwareOptions:
			o.Properties = properties
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
		return nil
	}
}

// IncludeDeleted makes ListHardware return soft-deleted records too
func IncludeDeleted() Option[ListHardwareOptions] {
	return func(o *ListHardwareOptions) error {
		o.IncludeDeleted = true
		return nil
	}
}

// WithID sets the ID of the hardware to create. A random ID is used otherwise.
func WithID(id uuid.UUID) Option[CreateHardwareOptions] {
	return func(o *CreateHardwareOptions) error {
		if id == uuid.Nil {
			return fmt.Errorf("%w: hardware id cannot be nil", ErrInvalidRequest)
		}
		o.ID = id
		return nil
	}
}

// WithHardwareType sets the type of the hardware to create
func WithHardwareType(hardwareType string) Option[CreateHardwareOptions] {
	return func(o *CreateHardwareOptions) error {
		if hardwareType == "" {
			return fmt.Errorf("%w: hardware_type cannot be empty", ErrInvalidRequest)
		}
		o.HardwareType = hardwareType
		return nil
	}
}

// WithWorkers restricts the hardware to a subset of its type's workers
func WithWorkers(workers ...string) Option[CreateHardwareOptions] {
	return func(o *CreateHardwareOptions) error {
		o.Workers = workers
		return nil
	}
}

// WithPropertyUpdates merges properties into the current ones on update
func WithPropertyUpdates(updates map[string]any) Option[UpdateHardwareOptions] {
	return func(o *UpdateHardwareOptions) error {
		if o.PropertyUpdates == nil {
			o.PropertyUpdates = make(map[string]any, len(updates))
		}
		for k, v := range updates {
			o.PropertyUpdates[k] = v
		}
		return nil
	}
}

// WithDryRun reports what an import would enroll without writing anything
func WithDryRun(dryRun bool) Option[ImportOptions] {
	return func(o *ImportOptions) error {
		o.DryRun = dryRun
		return nil
	}
}

func applyOptions[T ListHardwareOptions | CreateHardwareOptions | UpdateHardwareOptions | ImportOptions](
	opts []Option[T],
) (*T, error) {
	o := new(T)
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}
