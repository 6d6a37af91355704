// Package balena implements the worker that registers edge devices with a
// Balena (or openBalena) API and hands them their OpenStack credentials.
package balena

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

const (
	// Name is the worker type.
	Name = "balena"

	// DetailDeviceAPIKey holds the provisioning key the device owner bakes
	// into the OS image. It is generated once.
	DetailDeviceAPIKey = "device_api_key"

	credentialIDVar     = "OS_APPLICATION_CREDENTIAL_ID"
	credentialSecretVar = "OS_APPLICATION_CREDENTIAL_SECRET"

	apiPrefix = "/v6"
)

// Worker syncs hardware to Balena devices.
type Worker struct {
	client      httpclient.Client
	fleets      map[string]string
	serviceName string
	now         func() time.Time
}

// New creates a worker. fleets maps device types to fleet names.
func New(client httpclient.Client, fleets map[string]string, serviceName string) *Worker {
	return &Worker{
		client:      client,
		fleets:      fleets,
		serviceName: serviceName,
		now:         time.Now,
	}
}

// Factory builds the worker from the balena configuration section.
func Factory(cfg *config.Config) (worker.Worker, error) {
	bc := cfg.Workers.Balena
	if bc == nil {
		return nil, fmt.Errorf("%s: workers.balena is not configured", Name)
	}
	client, err := worker.NewEndpointClient(Name, &bc.EndpointConfig, httpclient.WithBearerToken)
	if err != nil {
		return nil, err
	}
	return New(client, bc.DeviceFleetMapping, bc.GetCredentialServiceName()), nil
}

// Name implements worker.Worker.
func (*Worker) Name() string {
	return Name
}

// SensitiveDetails implements worker.DetailMasker.
func (*Worker) SensitiveDetails() []string {
	return []string{DetailDeviceAPIKey}
}

// Fields implements worker.Worker.
func (*Worker) Fields() []worker.Field {
	return []worker.Field{
		{
			Name:     "application_credential_id",
			Schema:   worker.StringSchema(),
			Required: true,
			Private:  true,
			Description: "The ID of an application credential the device uses to query OpenStack APIs. " +
				"It should be scoped to the project that enrolled the device.",
		},
		{
			Name:        "application_credential_secret",
			Schema:      worker.StringSchema(),
			Required:    true,
			Private:     true,
			Sensitive:   true,
			Description: "The secret for the application credential.",
		},
	}
}

// AppliesTo implements worker.Worker.
func (*Worker) AppliesTo(*hardware.Hardware) bool {
	return true
}

// Process implements worker.Worker.
func (w *Worker) Process(ctx context.Context, hw *hardware.Hardware, current *state.WorkerState) (worker.Result, error) {
	uuid := DeviceUUID(hw)
	deviceType := hw.StringProperty("device_type")
	if deviceType == "" {
		return worker.Result{}, worker.Terminalf("hardware %s has no device_type", hw.ID)
	}

	device, err := w.registerDevice(ctx, hw, uuid, deviceType)
	if err != nil {
		return worker.Result{}, err
	}
	deviceID := device.Get("id").Int()

	installID, ok, err := w.serviceInstall(ctx, deviceID)
	if err != nil {
		return worker.Result{}, worker.Classify(err)
	}
	if !ok {
		return worker.Retry(fmt.Sprintf("Service %s is not yet installed on the device.", w.serviceName), nil), nil
	}
	vars := map[string]string{
		credentialIDVar:     hw.StringProperty("application_credential_id"),
		credentialSecretVar: hw.StringProperty("application_credential_secret"),
	}
	for _, name := range []string{credentialIDVar, credentialSecretVar} {
		if err := w.syncServiceVar(ctx, hw, deviceID, installID, name, vars[name]); err != nil {
			return worker.Result{}, worker.Classify(err)
		}
	}

	details := map[string]any{
		"device_id": deviceID,
		"fleet_id":  device.Get("belongs_to__application.__id").Int(),
		"last_seen": device.Get("last_connectivity_event").Value(),
	}
	if device.Get("is_online").Bool() {
		details["last_seen"] = w.now().UTC().Format(time.RFC3339)
	}

	if current == nil || current.Details[DetailDeviceAPIKey] == nil {
		resp, err := w.client.Post(ctx, fmt.Sprintf("/api-key/device/%d/device-key", deviceID), map[string]any{})
		if err != nil {
			return worker.Result{}, worker.Classify(err)
		}
		details[DetailDeviceAPIKey] = strings.Trim(string(resp.Body), "\"\n")
		slog.InfoContext(ctx, "Generated device API key", "hardware_id", hw.ID)
	}
	return worker.Success(details), nil
}

// DeviceUUID is the Balena device UUID for hw: its UUID without dashes.
func DeviceUUID(hw *hardware.Hardware) string {
	return strings.ReplaceAll(hw.ID.String(), "-", "")
}

// registerDevice returns the device for uuid, registering it in the fleet
// mapped to deviceType if Balena doesn't know it yet.
func (w *Worker) registerDevice(ctx context.Context, hw *hardware.Hardware, uuid, deviceType string) (gjson.Result, error) {
	typeID, err := w.deviceTypeID(ctx, deviceType)
	if err != nil {
		return gjson.Result{}, err
	}

	device, found, err := w.getDevice(ctx, uuid)
	if err != nil {
		return gjson.Result{}, worker.Classify(err)
	}
	if found {
		patch := map[string]any{}
		if device.Get("device_name").String() != hw.Name {
			patch["device_name"] = hw.Name
		}
		if device.Get("is_of__device_type.__id").Int() != typeID {
			patch["is_of__device_type"] = typeID
		}
		if len(patch) == 0 {
			return device, nil
		}
		if _, err := w.client.Patch(ctx, devicePath(uuid), patch); err != nil {
			return gjson.Result{}, worker.Classify(err)
		}
		slog.InfoContext(ctx, "Updated Balena device", "hardware_id", hw.ID, "fields", len(patch))
	} else {
		fleet, ok := w.fleets[deviceType]
		if !ok || fleet == "" {
			return gjson.Result{}, worker.Terminalf("no fleet is configured for device type %s", deviceType)
		}
		fleetID, err := w.fleetID(ctx, fleet)
		if err != nil {
			return gjson.Result{}, err
		}
		if _, err := w.client.Post(ctx, "/device/register", map[string]any{
			"application": fleetID,
			"uuid":        uuid,
			"device_type": deviceType,
		}); err != nil {
			return gjson.Result{}, worker.Classify(err)
		}
		// Registered devices get a generated name.
		if _, err := w.client.Patch(ctx, devicePath(uuid), map[string]any{"device_name": hw.Name}); err != nil {
			return gjson.Result{}, worker.Classify(err)
		}
		slog.InfoContext(ctx, "Registered Balena device", "hardware_id", hw.ID, "fleet", fleet)
	}

	// The register response lacks the fleet link, so read the device back.
	device, found, err = w.getDevice(ctx, uuid)
	if err != nil {
		return gjson.Result{}, worker.Classify(err)
	}
	if !found {
		return gjson.Result{}, worker.Transientf("device %s not found after registration", uuid)
	}
	return device, nil
}

func (w *Worker) getDevice(ctx context.Context, uuid string) (gjson.Result, bool, error) {
	resp, err := w.client.Get(ctx, odata("device", fmt.Sprintf("uuid eq '%s'", uuid)))
	if err != nil {
		return gjson.Result{}, false, err
	}
	d := resp.Get("d.0")
	return d, d.Exists(), nil
}

func (w *Worker) deviceTypeID(ctx context.Context, slug string) (int64, error) {
	resp, err := w.client.Get(ctx, odata("device_type", fmt.Sprintf("slug eq '%s'", slug)))
	if err != nil {
		return 0, worker.Classify(err)
	}
	id := resp.Get("d.0.id")
	if !id.Exists() {
		return 0, worker.Terminalf("unknown Balena device type %s", slug)
	}
	return id.Int(), nil
}

func (w *Worker) fleetID(ctx context.Context, name string) (int64, error) {
	resp, err := w.client.Get(ctx, odata("application", fmt.Sprintf("app_name eq '%s'", name)))
	if err != nil {
		return 0, worker.Classify(err)
	}
	id := resp.Get("d.0.id")
	if !id.Exists() {
		return 0, worker.Terminalf("fleet %s does not exist", name)
	}
	return id.Int(), nil
}

func (w *Worker) serviceInstall(ctx context.Context, deviceID int64) (int64, bool, error) {
	resp, err := w.client.Get(ctx, odata("service_install", fmt.Sprintf(
		"device eq %d and installs__service/service_name eq '%s'", deviceID, w.serviceName)))
	if err != nil {
		return 0, false, err
	}
	id := resp.Get("d.0.id")
	return id.Int(), id.Exists(), nil
}

func (w *Worker) syncServiceVar(ctx context.Context, hw *hardware.Hardware, deviceID, installID int64, name, value string) error {
	resp, err := w.client.Get(ctx, odata("device_service_environment_variable",
		fmt.Sprintf("service_install eq %d and name eq '%s'", installID, name)))
	if err != nil {
		return err
	}
	existing := resp.Get("d.0")
	switch {
	case !existing.Exists():
		_, err = w.client.Post(ctx, apiPrefix+"/device_service_environment_variable", map[string]any{
			"service_install": installID,
			"name":            name,
			"value":           value,
		})
		if err == nil {
			slog.InfoContext(ctx, "Created device service variable", "hardware_id", hw.ID, "device_id", deviceID, "name", name)
		}
	case existing.Get("value").String() != value:
		_, err = w.client.Patch(ctx, fmt.Sprintf("%s/device_service_environment_variable(%d)", apiPrefix, existing.Get("id").Int()),
			map[string]any{"value": value})
		if err == nil {
			slog.InfoContext(ctx, "Updated device service variable", "hardware_id", hw.ID, "device_id", deviceID, "name", name)
		}
	}
	return err
}

func devicePath(uuid string) string {
	return apiPrefix + "/device?" + url.Values{"$filter": {fmt.Sprintf("uuid eq '%s'", uuid)}}.Encode()
}

// odata builds a filtered resource query against the Balena API.
func odata(resource, filter string) string {
	return apiPrefix + "/" + resource + "?" + url.Values{"$filter": {filter}}.Encode()
}
