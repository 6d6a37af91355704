// Package v1 provides the REST API handlers for hardware enrollment.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chameleoncloud/doni/internal/api/common"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/hwtype"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

const (
	// DefaultAdminHeader marks a caller as admin when set to a true value
	DefaultAdminHeader = "X-Doni-Admin"

	jsonPatchContentType  = "application/json-patch+json"
	mergePatchContentType = "application/merge-patch+json"

	maxBodyBytes = 1 << 20
)

// Routes defines the routes for the hardware API with dependency injection
type Routes struct {
	service     service.HardwareService
	adminHeader string
}

// RouterOption configures the hardware API router
type RouterOption func(*Routes)

// WithAdminHeader sets the request header that marks a caller as admin
func WithAdminHeader(header string) RouterOption {
	return func(r *Routes) {
		if header != "" {
			r.adminHeader = header
		}
	}
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.HardwareService, opts ...RouterOption) *Routes {
	routes := &Routes{
		service:     svc,
		adminHeader: DefaultAdminHeader,
	}
	for _, opt := range opts {
		opt(routes)
	}
	return routes
}

// Router creates a new router for the hardware API
func Router(svc service.HardwareService, opts ...RouterOption) http.Handler {
	routes := NewRoutes(svc, opts...)

	r := chi.NewRouter()
	r.Route("/hardware", func(r chi.Router) {
		r.Get("/", routes.listHardware)
		r.Post("/", routes.createHardware)
		r.Get("/export", routes.exportHardware)
		r.Route("/{hardwareID}", func(r chi.Router) {
			r.Get("/", routes.getHardware)
			r.Patch("/", routes.updateHardware)
			r.Delete("/", routes.deleteHardware)
			r.Get("/workers", routes.listWorkers)
			r.Post("/workers/{workerType}/reset", routes.resetWorker)
		})
	})
	r.Get("/hardware-types", routes.listHardwareTypes)

	return r
}

// isAdmin reports whether the caller may see private fields.
func (rr *Routes) isAdmin(r *http.Request) bool {
	admin, _ := strconv.ParseBool(r.Header.Get(rr.adminHeader))
	return admin
}

func (rr *Routes) serializer(r *http.Request) serializer {
	return serializer{svc: rr.service, private: rr.isAdmin(r)}
}

// listHardware handles GET /v1/hardware
func (rr *Routes) listHardware(w http.ResponseWriter, r *http.Request) {
	var opts []service.Option[service.ListHardwareOptions]
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		opts = append(opts, service.WithProjectID[service.ListHardwareOptions](projectID))
	}
	if includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("include_deleted")); includeDeleted {
		opts = append(opts, service.IncludeDeleted())
	}

	list, err := rr.service.ListHardware(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, rr.serializer(r).hardwareList(list), http.StatusOK)
}

// exportHardware handles GET /v1/hardware/export. Private fields are never
// exported.
func (rr *Routes) exportHardware(w http.ResponseWriter, r *http.Request) {
	list, err := rr.service.ListHardware(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s := serializer{svc: rr.service}
	common.WriteJSONResponse(w, s.hardwareList(list), http.StatusOK)
}

// createHardware handles POST /v1/hardware
func (rr *Routes) createHardware(w http.ResponseWriter, r *http.Request) {
	var req HardwareRequest
	if err := decodeBody(r, &req); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := []service.Option[service.CreateHardwareOptions]{
		service.WithName[service.CreateHardwareOptions](req.Name),
		service.WithHardwareType(req.HardwareType),
		service.WithProjectID[service.CreateHardwareOptions](req.ProjectID),
		service.WithProperties[service.CreateHardwareOptions](req.Properties),
	}
	if req.UUID != nil {
		opts = append(opts, service.WithID(*req.UUID))
	}
	if len(req.Workers) > 0 {
		opts = append(opts, service.WithWorkers(req.Workers...))
	}

	hw, err := rr.service.CreateHardware(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, rr.serializer(r).hardware(hw), http.StatusCreated)
}

// getHardware handles GET /v1/hardware/{hardwareID}. The response embeds the
// hardware's worker states.
func (rr *Routes) getHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := hardwareID(w, r)
	if !ok {
		return
	}
	hw, err := rr.service.GetHardware(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	records, err := rr.service.ListWorkerStates(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s := rr.serializer(r)
	resp := s.hardware(hw)
	resp.Workers = s.workerStates(records)
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// updateHardware handles PATCH /v1/hardware/{hardwareID}. The body is an RFC
// 6902 JSON Patch when sent as application/json-patch+json or as a JSON array,
// and an RFC 7396 merge patch otherwise. uuid and hardware_type cannot change.
func (rr *Routes) updateHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := hardwareID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		common.WriteErrorResponse(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	current, err := rr.service.GetHardware(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	original := patchDocument{
		UUID:         current.ID,
		Name:         current.Name,
		HardwareType: current.Type,
		ProjectID:    current.ProjectID,
		Properties:   current.Properties,
	}
	patched, err := applyPatch(original, r.Header.Get("Content-Type"), body)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if patched.UUID != original.UUID || patched.HardwareType != original.HardwareType {
		common.WriteErrorResponse(w, "uuid and hardware_type cannot be changed", http.StatusBadRequest)
		return
	}

	hw, err := rr.service.UpdateHardware(r.Context(), id,
		service.WithName[service.UpdateHardwareOptions](patched.Name),
		service.WithProjectID[service.UpdateHardwareOptions](patched.ProjectID),
		service.WithProperties[service.UpdateHardwareOptions](patched.Properties),
	)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, rr.serializer(r).hardware(hw), http.StatusOK)
}

func applyPatch(doc patchDocument, contentType string, body []byte) (*patchDocument, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)
	var out []byte
	switch {
	case mediaType == jsonPatchContentType || bytes.HasPrefix(trimmed, []byte("[")):
		patch, err := jsonpatch.DecodePatch(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON patch: %w", err)
		}
		out, err = patch.Apply(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to apply JSON patch: %w", err)
		}
	case mediaType == mergePatchContentType, mediaType == "application/json", mediaType == "":
		out, err = jsonpatch.MergePatch(raw, trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid merge patch: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported content type %s", mediaType)
	}

	var patched patchDocument
	if err := json.Unmarshal(out, &patched); err != nil {
		return nil, fmt.Errorf("patched document is invalid: %w", err)
	}
	return &patched, nil
}

// deleteHardware handles DELETE /v1/hardware/{hardwareID}
func (rr *Routes) deleteHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := hardwareID(w, r)
	if !ok {
		return
	}
	if err := rr.service.DeleteHardware(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listWorkers handles GET /v1/hardware/{hardwareID}/workers
func (rr *Routes) listWorkers(w http.ResponseWriter, r *http.Request) {
	id, ok := hardwareID(w, r)
	if !ok {
		return
	}
	records, err := rr.service.ListWorkerStates(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, WorkerStateListResponse{Workers: rr.serializer(r).workerStates(records)}, http.StatusOK)
}

// resetWorker handles POST /v1/hardware/{hardwareID}/workers/{workerType}/reset
func (rr *Routes) resetWorker(w http.ResponseWriter, r *http.Request) {
	id, ok := hardwareID(w, r)
	if !ok {
		return
	}
	ws, err := rr.service.ResetWorker(r.Context(), id, chi.URLParam(r, "workerType"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, rr.serializer(r).workerState(ws), http.StatusOK)
}

// listHardwareTypes handles GET /v1/hardware-types
func (rr *Routes) listHardwareTypes(w http.ResponseWriter, r *http.Request) {
	types := rr.service.ListHardwareTypes(r.Context())
	common.WriteJSONResponse(w, HardwareTypeListResponse{HardwareTypes: types}, http.StatusOK)
}

func hardwareID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "hardwareID")
	id, err := uuid.Parse(raw)
	if err != nil {
		common.WriteErrorResponse(w, fmt.Sprintf("invalid hardware id %q", raw), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, hardware.ErrNotFound), errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, hwtype.ErrUnknownType),
		errors.Is(err, hwtype.ErrInvalidProperties), errors.Is(err, worker.ErrUnknownWorker),
		errors.Is(err, service.ErrNotImporter):
		return http.StatusBadRequest
	case errors.Is(err, hardware.ErrAlreadyExists), errors.Is(err, hardware.ErrDuplicateName),
		errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, state.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		common.WriteErrorResponse(w, "internal server error", status)
		return
	}
	common.WriteErrorResponse(w, err.Error(), status)
}
