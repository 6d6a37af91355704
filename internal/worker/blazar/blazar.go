// Package blazar implements workers that make hardware reservable in the
// OpenStack Blazar reservation service.
//
// Both workers cache the Blazar resource ID in their state details. Without a
// cached ID they create the resource; a conflict means it already exists, so
// they look it up, record its ID and retry.
package blazar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

// DetailResourceID is the state detail caching the Blazar resource ID.
const DetailResourceID = "blazar_resource_id"

// resourceKind describes one kind of reservable Blazar resource.
type resourceKind struct {
	name string
	// path is the collection endpoint, e.g. /os-hosts.
	path string
	// resourceType is the envelope key of single-resource responses.
	resourceType string
	// matchKey is the attribute holding the hardware UUID in list responses.
	matchKey string
	fields   []worker.Field
	state    func(hw *hardware.Hardware) map[string]any
}

// Worker syncs hardware to one kind of Blazar resource.
type Worker struct {
	client httpclient.Client
	kind   resourceKind
}

func newFactory(newWorker func(httpclient.Client) *Worker) worker.Factory {
	return func(cfg *config.Config) (worker.Worker, error) {
		bc := cfg.Workers.Blazar
		if bc == nil {
			return nil, fmt.Errorf("blazar: workers.blazar is not configured")
		}
		client, err := worker.NewEndpointClient("blazar", &bc.EndpointConfig, httpclient.WithAuthToken)
		if err != nil {
			return nil, err
		}
		return newWorker(client), nil
	}
}

// Name implements worker.Worker.
func (w *Worker) Name() string {
	return w.kind.name
}

// Fields implements worker.Worker.
func (w *Worker) Fields() []worker.Field {
	base := []worker.Field{
		{
			Name:        "authorized_projects",
			Schema:      worker.ArraySchema(worker.StringSchema()),
			Description: "Only users in these projects may reserve the resource. Specify project IDs.",
		},
		{
			Name:        "authorized_projects_reason",
			Schema:      worker.StringSchema(),
			Description: "An optional display reason explaining why the resource is restricted.",
		},
	}
	return append(base, w.kind.fields...)
}

// AppliesTo implements worker.Worker.
func (*Worker) AppliesTo(*hardware.Hardware) bool {
	return true
}

// Process implements worker.Worker.
func (w *Worker) Process(ctx context.Context, hw *hardware.Hardware, current *state.WorkerState) (worker.Result, error) {
	expected := w.expectedState(hw)

	var resourceID string
	if current != nil {
		resourceID, _ = current.Details[DetailResourceID].(string)
	}
	if resourceID != "" {
		return w.update(ctx, resourceID, expected)
	}
	return w.create(ctx, hw.ID.String(), expected)
}

func (w *Worker) expectedState(hw *hardware.Hardware) map[string]any {
	expected := map[string]any{}
	if projects, ok := hw.Properties["authorized_projects"].([]any); ok {
		refs := make([]string, 0, len(projects))
		for _, p := range projects {
			if s, ok := p.(string); ok && s != "" {
				refs = append(refs, s)
			}
		}
		expected["authorized_projects"] = strings.Join(refs, ",")
	}
	if reason := hw.StringProperty("authorized_projects_reason"); reason != "" {
		expected["restricted_reason"] = reason
	}
	for k, v := range w.kind.state(hw) {
		expected[k] = v
	}
	return expected
}

func (w *Worker) resourcePath(id string) string {
	return w.kind.path + "/" + id
}

func (w *Worker) update(ctx context.Context, resourceID string, expected map[string]any) (worker.Result, error) {
	resp, err := w.client.Get(ctx, w.resourcePath(resourceID))
	if err == nil {
		existing := resp.Get(gjsonKey(w.kind.resourceType))
		if !differs(existing, expected) {
			return worker.Steady(), nil
		}
		resp, err = w.client.Put(ctx, w.resourcePath(resourceID), expected)
	}
	if err != nil {
		switch {
		case httpclient.IsStatus(err, http.StatusNotFound):
			return worker.Retry("Resource not found", map[string]any{DetailResourceID: nil}), nil
		case httpclient.IsStatus(err, http.StatusConflict):
			return worker.Retry("Active leases exist for resource", nil), nil
		default:
			return worker.Result{}, worker.Classify(err)
		}
	}

	updated := resp.Get(gjsonKey(w.kind.resourceType))
	slog.InfoContext(ctx, "Updated Blazar resource", "worker", w.kind.name, "resource", resourceID)
	return worker.Success(map[string]any{
		DetailResourceID:      valueOr(updated.Get("id"), resourceID),
		"resource_updated_at": updated.Get("updated_at").Value(),
	}), nil
}

func (w *Worker) create(ctx context.Context, name string, expected map[string]any) (worker.Result, error) {
	body := make(map[string]any, len(expected)+1)
	for k, v := range expected {
		body[k] = v
	}
	body["name"] = name

	resp, err := w.client.Post(ctx, w.kind.path, body)
	if err != nil {
		switch {
		case httpclient.IsStatus(err, http.StatusNotFound):
			return worker.Retry("Can not make resource reservable, as the underlying entity could not be found.", nil), nil
		case httpclient.IsStatus(err, http.StatusConflict):
			return w.adopt(ctx, name)
		default:
			return worker.Result{}, worker.Classify(err)
		}
	}

	created := resp.Get(gjsonKey(w.kind.resourceType))
	slog.InfoContext(ctx, "Created Blazar resource", "worker", w.kind.name, "resource", created.Get("id").String())
	return worker.Success(map[string]any{
		DetailResourceID:      valueOr(created.Get("id"), nil),
		"resource_created_at": created.Get("created_at").Value(),
	}), nil
}

// adopt finds an existing resource after a create conflict and records its ID.
func (w *Worker) adopt(ctx context.Context, name string) (worker.Result, error) {
	resp, err := w.client.Get(ctx, w.kind.path)
	if err != nil {
		return worker.Result{}, worker.Classify(err)
	}
	for _, r := range resp.Get(gjsonKey(w.kind.resourceType + "s")).Array() {
		if r.Get(gjsonKey(w.kind.matchKey)).String() == name {
			return worker.Retry("Found existing resource", map[string]any{
				DetailResourceID: valueOr(r.Get("id"), nil),
			}), nil
		}
	}
	return worker.Result{}, worker.Terminalf(
		"couldn't find resource in Blazar, yet Blazar returned a 409 on create; check Blazar for errors")
}

// differs reports whether any expected attribute differs from existing.
// Blazar returns extra capabilities as strings, so numbers compare by value.
func differs(existing gjson.Result, expected map[string]any) bool {
	for k, want := range expected {
		got := existing.Get(gjsonKey(k))
		if !got.Exists() {
			return true
		}
		switch v := want.(type) {
		case float64:
			if !sameNumber(got, v) {
				return true
			}
		case int:
			if !sameNumber(got, float64(v)) {
				return true
			}
		default:
			if got.String() != fmt.Sprint(want) {
				return true
			}
		}
	}
	return false
}

func sameNumber(got gjson.Result, want float64) bool {
	if got.Type == gjson.Number {
		return got.Num == want
	}
	f, err := strconv.ParseFloat(got.String(), 64)
	return err == nil && f == want
}

// gjsonKey escapes a literal key for use as a gjson path. Blazar extra
// capability names contain dots.
func gjsonKey(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

func valueOr(v gjson.Result, def any) any {
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	return v.Value()
}
