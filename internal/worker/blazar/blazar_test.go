package blazar

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

// fakeBlazar serves one resource collection in memory.
type fakeBlazar struct {
	mu           sync.Mutex
	path         string
	resourceType string
	matchKey     string
	resources    map[string]map[string]any
	nextID       int
	failures     map[string]int
	puts         int
}

func newFakeBlazar(t *testing.T, w *Worker) (*fakeBlazar, *httptest.Server) {
	t.Helper()
	f := &fakeBlazar{
		path:         w.kind.path,
		resourceType: w.kind.resourceType,
		matchKey:     w.kind.matchKey,
		resources:    map[string]map[string]any{},
		failures:     map[string]int{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if code, ok := f.failures[r.Method+" "+r.URL.Path]; ok {
			rw.WriteHeader(code)
			return
		}
		id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, f.path), "/")
		switch {
		case r.Method == http.MethodGet && id == "":
			list := []any{}
			for _, res := range f.resources {
				list = append(list, res)
			}
			writeJSON(rw, map[string]any{f.resourceType + "s": list})
		case r.Method == http.MethodPost && id == "":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for _, res := range f.resources {
				if res[f.matchKey] == body["name"] {
					rw.WriteHeader(http.StatusConflict)
					return
				}
			}
			f.nextID++
			body["id"] = fmt.Sprint(f.nextID)
			body[f.matchKey] = body["name"]
			body["created_at"] = "2026-01-01 00:00:00"
			f.resources[body["id"].(string)] = body
			writeJSON(rw, map[string]any{f.resourceType: body})
		case r.Method == http.MethodGet:
			res, ok := f.resources[id]
			if !ok {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(rw, map[string]any{f.resourceType: res})
		case r.Method == http.MethodPut:
			res, ok := f.resources[id]
			if !ok {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for k, v := range body {
				// Blazar stores extra capabilities as strings.
				res[k] = fmt.Sprint(v)
			}
			res["updated_at"] = "2026-01-02 00:00:00"
			f.puts++
			writeJSON(rw, map[string]any{f.resourceType: res})
		default:
			rw.WriteHeader(http.StatusNotImplemented)
		}
	}))
	srv.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBlazar) resource(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.resources[id])
}

func (f *fakeBlazar) set(id string, res map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[id] = res
}

func (f *fakeBlazar) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func hostHardware() *hardware.Hardware {
	return &hardware.Hardware{
		ID:   uuid.MustParse("9d4c3a2b-1f0e-4d5c-8b7a-6f5e4d3c2b1a"),
		Name: "c01-04",
		Type: "baremetal",
		Properties: map[string]any{
			"node_type":           "compute_skylake",
			"cpu_arch":            "x86_64",
			"su_factor":           1.0,
			"placement":           map[string]any{"rack": "c01", "node": "4"},
			"authorized_projects": []any{"p1", "p2"},
		},
	}
}

// run processes hw and feeds the returned details back, like the state
// service would.
func run(t *testing.T, w *Worker, hw *hardware.Hardware, ws *state.WorkerState) worker.Result {
	t.Helper()
	res, err := w.Process(context.Background(), hw, ws)
	require.NoError(t, err)
	if ws.Details == nil {
		ws.Details = map[string]any{}
	}
	for k, v := range res.Details {
		if v == nil {
			delete(ws.Details, k)
			continue
		}
		ws.Details[k] = v
	}
	return res
}

func TestPhysicalHost_CreateThenSteady(t *testing.T) {
	t.Parallel()

	w := NewPhysicalHost(nil)
	fake, srv := newFakeBlazar(t, w)
	w.client = httpclient.NewDefaultClient(srv.URL)

	hw := hostHardware()
	ws := &state.WorkerState{}

	res := run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "1", ws.Details[DetailResourceID])
	assert.Equal(t, "2026-01-01 00:00:00", res.Details["resource_created_at"])

	created := fake.resource("1")
	assert.Equal(t, hw.ID.String(), created["name"])
	assert.Equal(t, "p1,p2", created["authorized_projects"])
	assert.Equal(t, "c01", created["placement.rack"])
	assert.Equal(t, "4", created["placement.node"])

	// Blazar echoes su_factor back as "1"; no update is needed.
	created["su_factor"] = "1.0"
	fake.set("1", created)
	res = run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeSteady, res.Outcome)
	assert.Zero(t, fake.putCount())

	hw.Properties["node_type"] = "gpu_rtx_6000"
	res = run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "2026-01-02 00:00:00", res.Details["resource_updated_at"])
	assert.Equal(t, "gpu_rtx_6000", fake.resource("1")["node_type"])
	assert.Equal(t, 1, fake.putCount())
}

func TestPhysicalHost_AdoptsExistingOnConflict(t *testing.T) {
	t.Parallel()

	w := NewPhysicalHost(nil)
	fake, srv := newFakeBlazar(t, w)
	w.client = httpclient.NewDefaultClient(srv.URL)
	hw := hostHardware()
	fake.set("42", map[string]any{"id": "42", "hypervisor_hostname": hw.ID.String()})

	ws := &state.WorkerState{}
	res := run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeRetry, res.Outcome)
	assert.Equal(t, "42", ws.Details[DetailResourceID])

	res = run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, fake.putCount())
}

func TestPhysicalHost_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cachedID   string
		failures   map[string]int
		wantReason string
		wantKind   worker.Kind
		wantClear  bool
	}{
		{
			name:       "update of missing resource clears id",
			cachedID:   "7",
			wantReason: "Resource not found",
			wantClear:  true,
		},
		{
			name:       "update blocked by leases",
			cachedID:   "1",
			failures:   map[string]int{"PUT /os-hosts/1": http.StatusConflict},
			wantReason: "Active leases exist for resource",
		},
		{
			name:       "underlying node missing",
			failures:   map[string]int{"POST /os-hosts": http.StatusNotFound},
			wantReason: "Can not make resource reservable, as the underlying entity could not be found.",
		},
		{
			name:     "conflict without match is terminal",
			failures: map[string]int{"POST /os-hosts": http.StatusConflict},
			wantKind: worker.KindTerminal,
		},
		{
			name:     "server error is transient",
			failures: map[string]int{"POST /os-hosts": http.StatusBadGateway},
			wantKind: worker.KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := NewPhysicalHost(nil)
			fake, srv := newFakeBlazar(t, w)
			w.client = httpclient.NewDefaultClient(srv.URL)
			fake.set("1", map[string]any{"id": "1", "hypervisor_hostname": "other"})
			if tt.failures != nil {
				fake.mu.Lock()
				fake.failures = tt.failures
				fake.mu.Unlock()
			}

			ws := &state.WorkerState{Details: map[string]any{}}
			if tt.cachedID != "" {
				ws.Details[DetailResourceID] = tt.cachedID
			}
			res, err := w.Process(context.Background(), hostHardware(), ws)
			if tt.wantKind != 0 {
				kind, ok := worker.KindOf(err)
				require.True(t, ok, "expected classified error, got %v", err)
				assert.Equal(t, tt.wantKind, kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, state.OutcomeRetry, res.Outcome)
			assert.Equal(t, tt.wantReason, res.Reason)
			if tt.wantClear {
				v, ok := res.Details[DetailResourceID]
				assert.True(t, ok)
				assert.Nil(t, v)
			}
		})
	}
}

func TestDevice(t *testing.T) {
	t.Parallel()

	w := NewDevice(nil)
	fake, srv := newFakeBlazar(t, w)
	w.client = httpclient.NewDefaultClient(srv.URL)

	hw := &hardware.Hardware{
		ID:   uuid.New(),
		Name: "rpi-1",
		Type: "device.balena",
		Properties: map[string]any{
			"blazar_device_driver":       "k8s",
			"device_type":                "raspberrypi4-64",
			"authorized_projects_reason": "pilot",
		},
	}
	ws := &state.WorkerState{}
	res := run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)

	created := fake.resource("1")
	assert.Equal(t, hw.ID.String(), created["name"])
	assert.Equal(t, "rpi-1", created["device_name"])
	assert.Equal(t, "k8s", created["device_driver"])
	assert.Equal(t, "raspberrypi4-64", created["machine_name"])
	assert.Equal(t, "pilot", created["restricted_reason"])
	assert.NotContains(t, created, "authorized_projects")

	res = run(t, w, hw, ws)
	assert.Equal(t, state.OutcomeSteady, res.Outcome)
}

func TestFieldsAndFactory(t *testing.T) {
	t.Parallel()

	host := NewPhysicalHost(nil)
	names := []string{}
	for _, f := range host.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"authorized_projects", "authorized_projects_reason", "node_type", "placement", "su_factor"}, names)
	assert.Equal(t, PhysicalHostName, host.Name())
	assert.Equal(t, DeviceName, NewDevice(nil).Name())

	_, err := PhysicalHostFactory(config.Default())
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Workers.Blazar = &config.BlazarConfig{EndpointConfig: config.EndpointConfig{Endpoint: "http://blazar"}}
	w, err := DeviceFactory(cfg)
	require.NoError(t, err)
	assert.Equal(t, DeviceName, w.Name())
}

func TestDiffers(t *testing.T) {
	t.Parallel()

	existing := httpclientResponse(t, `{"uid":"u","su_factor":"1.5","placement.rack":"c01","count":3}`)
	assert.False(t, differs(existing, map[string]any{"uid": "u", "su_factor": 1.5, "placement.rack": "c01", "count": 3}))
	assert.True(t, differs(existing, map[string]any{"su_factor": 2.0}))
	assert.True(t, differs(existing, map[string]any{"node_type": "x"}))
	assert.True(t, differs(existing, map[string]any{"placement.rack": "c02"}))
}

func httpclientResponse(t *testing.T, body string) gjson.Result {
	t.Helper()
	return (&httpclient.Response{Body: []byte(body)}).JSON()
}
