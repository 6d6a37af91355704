package v1

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

// HardwareRequest is the body of a create request
type HardwareRequest struct {
	UUID         *uuid.UUID     `json:"uuid,omitempty"`
	Name         string         `json:"name"`
	HardwareType string         `json:"hardware_type"`
	ProjectID    string         `json:"project_id,omitempty"`
	Properties   map[string]any `json:"properties"`
	Workers      []string       `json:"workers,omitempty"`
}

// HardwareResponse renders a hardware record
type HardwareResponse struct {
	UUID         uuid.UUID             `json:"uuid"`
	Name         string                `json:"name"`
	HardwareType string                `json:"hardware_type"`
	ProjectID    string                `json:"project_id"`
	Properties   map[string]any        `json:"properties"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	DeletedAt    *time.Time            `json:"deleted_at,omitempty"`
	Workers      []WorkerStateResponse `json:"workers,omitempty"`
}

// HardwareListResponse renders a list of hardware records
type HardwareListResponse struct {
	Hardware []HardwareResponse `json:"hardware"`
}

// WorkerStateResponse renders a worker state record
type WorkerStateResponse struct {
	WorkerType     string         `json:"worker_type"`
	State          state.State    `json:"state"`
	StateDetails   map[string]any `json:"state_details"`
	AttemptCount   int            `json:"attempt_count"`
	InProgress     bool           `json:"in_progress"`
	NextEligibleAt *time.Time     `json:"next_eligible_at,omitempty"`
	LastUpdatedAt  time.Time      `json:"last_updated_at"`
}

// WorkerStateListResponse renders the worker state records of one hardware
type WorkerStateListResponse struct {
	Workers []WorkerStateResponse `json:"workers"`
}

// HardwareTypeListResponse renders the enabled hardware types
type HardwareTypeListResponse struct {
	HardwareTypes []service.HardwareTypeInfo `json:"hardware_types"`
}

// patchDocument is what PATCH requests operate on.
type patchDocument struct {
	UUID         uuid.UUID      `json:"uuid"`
	Name         string         `json:"name"`
	HardwareType string         `json:"hardware_type"`
	ProjectID    string         `json:"project_id"`
	Properties   map[string]any `json:"properties"`
}

// serializer renders records for one caller.
type serializer struct {
	svc     service.HardwareService
	private bool
}

// hardware renders hw restricted to the fields its type declares. Private
// fields are dropped unless the caller may see them; sensitive values are
// always masked. Unset fields fall back to their default.
func (s serializer) hardware(hw *hardware.Hardware) HardwareResponse {
	resp := HardwareResponse{
		UUID:         hw.ID,
		Name:         hw.Name,
		HardwareType: hw.Type,
		ProjectID:    hw.ProjectID,
		Properties:   map[string]any{},
		CreatedAt:    hw.CreatedAt,
		UpdatedAt:    hw.UpdatedAt,
		DeletedAt:    hw.DeletedAt,
	}

	fields, err := s.svc.Fields(hw.Type)
	if err != nil {
		// type disabled since enrollment
		return resp
	}
	for _, f := range fields {
		if f.Private && !s.private {
			continue
		}
		v, ok := hw.Properties[f.Name]
		if !ok || v == nil {
			v = f.Default
		}
		if v == nil {
			continue
		}
		if f.Sensitive {
			v = worker.Masked
		}
		resp.Properties[f.Name] = v
	}
	return resp
}

func (s serializer) hardwareList(list []*hardware.Hardware) HardwareListResponse {
	resp := HardwareListResponse{Hardware: make([]HardwareResponse, 0, len(list))}
	for _, hw := range list {
		resp.Hardware = append(resp.Hardware, s.hardware(hw))
	}
	return resp
}

func (s serializer) workerState(ws *state.WorkerState) WorkerStateResponse {
	details := make(map[string]any, len(ws.Details))
	var sensitive []string
	if !s.private {
		sensitive = s.svc.SensitiveDetails(ws.WorkerType)
	}
	for k, v := range ws.Details {
		if slices.Contains(sensitive, k) {
			v = worker.Masked
		}
		details[k] = v
	}
	return WorkerStateResponse{
		WorkerType:     ws.WorkerType,
		State:          ws.State,
		StateDetails:   details,
		AttemptCount:   ws.AttemptCount,
		InProgress:     ws.InProgress,
		NextEligibleAt: ws.NextEligibleAt,
		LastUpdatedAt:  ws.LastUpdatedAt,
	}
}

func (s serializer) workerStates(records []*state.WorkerState) []WorkerStateResponse {
	out := make([]WorkerStateResponse, 0, len(records))
	for _, ws := range records {
		out = append(out, s.workerState(ws))
	}
	return out
}
