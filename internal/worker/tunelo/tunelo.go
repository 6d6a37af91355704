// Package tunelo implements the worker that provisions tunnel channels for
// devices in the Tunelo service.
package tunelo

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

const (
	// Name is the worker type.
	Name = "tunelo"

	// DetailChannels maps channel names to Tunelo channel UUIDs.
	DetailChannels = "channels"

	// hardwareTag is the channel property naming the owning hardware.
	hardwareTag = "hardware_uuid"
)

// Worker syncs hardware channels to Tunelo.
type Worker struct {
	client httpclient.Client
}

// New creates a worker that talks to Tunelo through client.
func New(client httpclient.Client) *Worker {
	return &Worker{client: client}
}

// Factory builds the worker from the tunelo configuration section.
func Factory(cfg *config.Config) (worker.Worker, error) {
	tc := cfg.Workers.Tunelo
	if tc == nil {
		return nil, fmt.Errorf("%s: workers.tunelo is not configured", Name)
	}
	client, err := worker.NewEndpointClient(Name, &tc.EndpointConfig, httpclient.WithAuthToken)
	if err != nil {
		return nil, err
	}
	return New(client), nil
}

// Name implements worker.Worker.
func (*Worker) Name() string {
	return Name
}

// Fields implements worker.Worker. Channel definitions are hardware type fields.
func (*Worker) Fields() []worker.Field {
	return nil
}

// AppliesTo implements worker.Worker.
func (*Worker) AppliesTo(hw *hardware.Hardware) bool {
	_, ok := hw.Properties["channels"].(map[string]any)
	return ok
}

// Process implements worker.Worker.
func (w *Worker) Process(ctx context.Context, hw *hardware.Hardware, current *state.WorkerState) (worker.Result, error) {
	desired, _ := hw.Properties["channels"].(map[string]any)
	known := map[string]string{}
	if current != nil {
		if m, ok := current.Details[DetailChannels].(map[string]any); ok {
			for name, id := range m {
				if s, ok := id.(string); ok {
					known[name] = s
				}
			}
		}
	}

	resp, err := w.client.Get(ctx, "/channels")
	if err != nil {
		return worker.Result{}, worker.Classify(err)
	}
	existing := map[string]gjson.Result{}
	for _, c := range resp.Get("channels").Array() {
		existing[c.Get("uuid").String()] = c
	}

	changed := false
	channels := map[string]any{}
	for _, name := range slices.Sorted(maps.Keys(desired)) {
		props, _ := desired[name].(map[string]any)
		if id, ok := known[name]; ok {
			if c, found := existing[id]; found {
				if !differs(props, c) {
					channels[name] = id
					continue
				}
				if _, err := w.client.Delete(ctx, "/channels/"+id, http.StatusNotFound); err != nil {
					return worker.Result{}, worker.Classify(err)
				}
				delete(existing, id)
				slog.InfoContext(ctx, "Channel changed, re-creating", "hardware_id", hw.ID, "channel", name, "uuid", id)
			}
		}

		id, err := w.createChannel(ctx, hw, props)
		if err != nil {
			return worker.Result{}, err
		}
		slog.InfoContext(ctx, "Created channel", "hardware_id", hw.ID, "channel", name, "uuid", id)
		channels[name] = id
		changed = true
	}

	inUse := map[string]bool{}
	for _, id := range channels {
		inUse[id.(string)] = true
	}
	owned := hw.ID.String()
	for id, c := range existing {
		if inUse[id] || c.Get("properties."+hardwareTag).String() != owned {
			continue
		}
		if _, err := w.client.Delete(ctx, "/channels/"+id, http.StatusNotFound); err != nil {
			return worker.Result{}, worker.Classify(err)
		}
		slog.InfoContext(ctx, "Deleted dangling channel", "hardware_id", hw.ID, "uuid", id)
		changed = true
	}

	if !changed && len(channels) == len(known) {
		return worker.Steady(), nil
	}
	return worker.Success(map[string]any{DetailChannels: channels}), nil
}

func (w *Worker) createChannel(ctx context.Context, hw *hardware.Hardware, props map[string]any) (string, error) {
	resp, err := w.client.Post(ctx, "/channels", map[string]any{
		"project_id":   hw.ProjectID,
		"channel_type": props["channel_type"],
		"properties": map[string]any{
			"public_key": props["public_key"],
			hardwareTag:  hw.ID.String(),
		},
	})
	if err != nil {
		return "", worker.Classify(err)
	}
	id := resp.Get("uuid").String()
	if id == "" {
		return "", worker.Terminalf("tunelo returned a channel without uuid")
	}
	return id, nil
}

// differs compares the attributes a channel is recreated for.
func differs(want map[string]any, got gjson.Result) bool {
	return fmt.Sprint(valueOr(want["channel_type"])) != got.Get("channel_type").String() ||
		fmt.Sprint(valueOr(want["public_key"])) != got.Get("properties.public_key").String()
}

func valueOr(v any) any {
	if v == nil {
		return ""
	}
	return v
}

