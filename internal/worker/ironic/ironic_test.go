package ironic

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/internal/worker/ironic/ironictest"
)

func testHardware() *hardware.Hardware {
	return &hardware.Hardware{
		ID:   uuid.MustParse("5a7c4f0e-3f6b-4f0a-9f1e-2b8d9c6e7a10"),
		Name: "node-1",
		Type: HardwareType,
		Properties: map[string]any{
			"management_address":       "10.0.0.5",
			"ipmi_username":            "admin",
			"ipmi_password":            "secret",
			"ipmi_port":                623,
			"cpu_arch":                 "x86_64",
			"baremetal_driver":         "ipmi",
			"baremetal_resource_class": "baremetal",
			"baremetal_capabilities":   map[string]any{"boot_mode": "uefi", "disk_label": "gpt"},
			"interfaces": []any{
				map[string]any{
					"name":           "eno1",
					"mac_address":    "AA:BB:CC:DD:EE:01",
					"switch_id":      "00:11:22:33:44:55",
					"switch_port_id": "Te1/0/1",
					"switch_info":    "leaf-1",
				},
				map[string]any{"name": "eno2", "mac_address": "aa:bb:cc:dd:ee:02", "enabled": false},
			},
		},
	}
}

func newTestWorker(t *testing.T, opts ...Option) (*Worker, *ironictest.Server) {
	t.Helper()
	srv := ironictest.NewServer(t)
	opts = append([]Option{WithProvisionWait(time.Second, time.Millisecond)}, opts...)
	return New(httpclient.NewDefaultClient(srv.URL, httpclient.WithAuthToken("token")), opts...), srv
}

func process(t *testing.T, w *Worker, hw *hardware.Hardware) worker.Result {
	t.Helper()
	res, err := w.Process(context.Background(), hw, &state.WorkerState{})
	require.NoError(t, err)
	return res
}

func TestProcess_EnrollsNewNode(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	hw := testHardware()
	nodeID := hw.ID.String()

	res := process(t, w, hw)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, ironictest.CreatedAt, res.Details["created_at"])

	node := fake.Node(nodeID)
	require.NotNil(t, node)
	assert.Equal(t, stateAvailable, node["provision_state"])
	assert.Equal(t, "node-1", node["name"])
	assert.Equal(t, "boot_mode:uefi,disk_label:gpt", node["properties"].(map[string]any)["capabilities"])
	driverInfo := node["driver_info"].(map[string]any)
	assert.Equal(t, "10.0.0.5", driverInfo["ipmi_address"])
	assert.NotContains(t, driverInfo, "deploy_kernel")

	ports := fake.Ports()
	require.Len(t, ports, 1, "disabled interfaces get no port")
	assert.Equal(t, "AA:BB:CC:DD:EE:01", ports[0]["address"])
	assert.Equal(t, map[string]any{
		"switch_id":   "00:11:22:33:44:55",
		"port_id":     "Te1/0/1",
		"switch_info": "leaf-1",
	}, ports[0]["local_link_connection"])
	assert.Equal(t, true, ports[0]["pxe_enabled"])
	assert.Equal(t, 2, fake.CallCount(http.MethodPut+" /v1/nodes/"+nodeID+"/states/provision"))

	// Converged: further calls change nothing.
	res = process(t, w, hw)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, fake.CallCount(http.MethodPost+" /v1/nodes"))
	assert.Zero(t, fake.CallCount(http.MethodPatch+" /v1/nodes/"+nodeID))
	assert.Equal(t, 2, fake.CallCount(http.MethodPut+" /v1/nodes/"+nodeID+"/states/provision"))
	assert.Len(t, fake.Ports(), 1)
}

func TestProcess_WaitsForProvisionState(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	fake.SetSettleAfter(3)
	hw := testHardware()

	res := process(t, w, hw)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, stateAvailable, fake.Node(hw.ID.String())["provision_state"])
	// the initial lookup plus three reads per transition
	assert.Equal(t, 7, fake.CallCount(http.MethodGet+" /v1/nodes/"+hw.ID.String()))
}

func TestProcess_ProvisionTimeout(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t, WithProvisionWait(20*time.Millisecond, 5*time.Millisecond))
	fake.SetSettleAfter(-1)
	hw := testHardware()

	res := process(t, w, hw)
	assert.Equal(t, state.OutcomeRetry, res.Outcome)
	assert.Equal(t, reasonTimeout, res.Reason)
	assert.Equal(t, ironictest.CreatedAt, res.Details["created_at"])
	assert.Equal(t, stateEnroll, fake.Node(hw.ID.String())["provision_state"])

	// once Ironic catches up the next invocation finishes the enrollment
	fake.SetSettleAfter(0)
	fake.UpdateNode(hw.ID.String(), func(node map[string]any) { node["provision_state"] = stateManageable })
	res = process(t, w, hw)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, fake.CallCount(http.MethodPost+" /v1/nodes"))
}

func TestProcess_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t, WithProvisionWait(time.Minute, 5*time.Millisecond))
	fake.SetSettleAfter(-1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := w.Process(ctx, testHardware(), &state.WorkerState{})
	require.Error(t, err)
	kind, ok := worker.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, worker.KindTransient, kind)
}

func TestProcess_SettlingState(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	hw := testHardware()
	process(t, w, hw)

	provisionCall := http.MethodPut + " /v1/nodes/" + hw.ID.String() + "/states/provision"
	calls := fake.CallCount(provisionCall)
	fake.UpdateNode(hw.ID.String(), func(node map[string]any) { node["provision_state"] = "cleaning" })
	go func() {
		// Ironic finishes cleaning on its own
		time.Sleep(20 * time.Millisecond)
		fake.UpdateNode(hw.ID.String(), func(node map[string]any) { node["provision_state"] = stateAvailable })
	}()

	res := process(t, w, hw)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, calls, fake.CallCount(provisionCall), "no transition is requested while a node settles")
}

func TestProcess_UpdatesNode(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	hw := testHardware()
	process(t, w, hw)
	require.Equal(t, stateAvailable, fake.Node(hw.ID.String())["provision_state"])

	hw.Properties["management_address"] = "10.0.0.6"
	delete(hw.Properties, "baremetal_capabilities")

	res := process(t, w, hw)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	node := fake.Node(hw.ID.String())
	assert.Equal(t, "10.0.0.6", node["driver_info"].(map[string]any)["ipmi_address"])
	assert.NotContains(t, node["properties"], "capabilities")
	assert.Equal(t, stateAvailable, node["provision_state"])
	assert.Equal(t, 1, fake.CallCount(http.MethodPatch+" /v1/nodes/"+hw.ID.String()))
}

func TestProcess_SyncsPorts(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	hw := testHardware()
	process(t, w, hw)

	ifaces := hw.Properties["interfaces"].([]any)
	ifaces[0].(map[string]any)["name"] = "eth0"
	ifaces[1].(map[string]any)["enabled"] = true
	ifaces = append(ifaces, map[string]any{"name": "eno3", "mac_address": "aa:bb:cc:dd:ee:03", "pxe_enabled": false})
	hw.Properties["interfaces"] = ifaces

	assert.Equal(t, state.OutcomeSuccess, process(t, w, hw).Outcome)
	ports := fake.Ports()
	require.Len(t, ports, 3)
	byMAC := map[string]map[string]any{}
	for _, p := range ports {
		byMAC[p["address"].(string)] = p
	}
	assert.Equal(t, "eth0", byMAC["AA:BB:CC:DD:EE:01"]["extra"].(map[string]any)["name"])
	assert.Equal(t, false, byMAC["aa:bb:cc:dd:ee:03"]["pxe_enabled"])

	// Dropping an interface deletes its port.
	hw.Properties["interfaces"] = ifaces[:1]
	assert.Equal(t, state.OutcomeSuccess, process(t, w, hw).Outcome)
	require.Len(t, fake.Ports(), 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", fake.Ports()[0]["address"])
}

func TestProcess_Maintenance(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	hw := testHardware()
	process(t, w, hw)
	fake.UpdateNode(hw.ID.String(), func(node map[string]any) { node["maintenance"] = true })

	res := process(t, w, hw)
	assert.Equal(t, state.OutcomeRetry, res.Outcome)
	assert.Equal(t, reasonMaintenance, res.Reason)
}

func TestProcess_BackendErrors(t *testing.T) {
	t.Parallel()

	hw := testHardware()
	nodePath := "/v1/nodes/" + hw.ID.String()

	tests := []struct {
		name       string
		failures   map[string]int
		seed       bool
		wantReason string
		wantKind   worker.Kind
	}{
		{
			name:       "locked node",
			failures:   map[string]int{http.MethodGet + " " + nodePath: http.StatusConflict},
			wantReason: reasonLocked,
		},
		{
			name:       "invalid provision transition",
			failures:   map[string]int{http.MethodPut + " " + nodePath + "/states/provision": http.StatusBadRequest},
			wantReason: reasonInvalid,
		},
		{
			name:     "server error is transient",
			failures: map[string]int{http.MethodGet + " " + nodePath: http.StatusServiceUnavailable},
			wantKind: worker.KindTransient,
		},
		{
			name:     "rejected create is terminal",
			failures: map[string]int{http.MethodPost + " /v1/nodes": http.StatusBadRequest},
			wantKind: worker.KindTerminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, fake := newTestWorker(t)
			for call, status := range tt.failures {
				fake.Fail(call, status)
			}

			res, err := w.Process(context.Background(), testHardware(), &state.WorkerState{})
			if tt.wantKind != 0 {
				require.Error(t, err)
				kind, ok := worker.KindOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantKind, kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, state.OutcomeRetry, res.Outcome)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}
}

func TestProcess_InvalidInterfaces(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t)
	hw := testHardware()
	hw.Properties["interfaces"] = "eth0"
	_, err := w.Process(context.Background(), hw, &state.WorkerState{})
	kind, ok := worker.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, worker.KindTerminal, kind)
}

func TestImportExisting(t *testing.T) {
	t.Parallel()

	w, fake := newTestWorker(t)
	hw := testHardware()
	process(t, w, hw)

	masked := map[string]any{
		"uuid":        uuid.NewString(),
		"name":        "masked",
		"driver":      "ipmi",
		"driver_info": map[string]any{"ipmi_address": "10.0.0.9", "ipmi_password": "******"},
		"properties":  map[string]any{},
	}
	fake.PutNode(masked)
	fake.UpdateNode(hw.ID.String(), func(node map[string]any) {
		node["driver_info"].(map[string]any)["ipmi_port"] = "623"
	})

	imported, err := w.ImportExisting(context.Background())
	require.NoError(t, err)
	require.Len(t, imported, 1)

	got := imported[0]
	assert.Equal(t, hw.ID.String(), got.ID)
	assert.Equal(t, "node-1", got.Name)
	assert.Equal(t, HardwareType, got.HardwareType)
	assert.Equal(t, "10.0.0.5", got.Properties["management_address"])
	assert.Equal(t, int64(623), got.Properties["ipmi_port"])
	assert.Equal(t, map[string]any{"boot_mode": "uefi", "disk_label": "gpt"}, got.Properties["baremetal_capabilities"])
	assert.Equal(t, []any{map[string]any{
		"name":           "eno1",
		"mac_address":    "AA:BB:CC:DD:EE:01",
		"switch_id":      "00:11:22:33:44:55",
		"switch_port_id": "Te1/0/1",
		"switch_info":    "leaf-1",
	}}, got.Properties["interfaces"])
}

func TestFactory(t *testing.T) {
	t.Parallel()

	_, err := Factory(config.Default())
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Workers.Ironic = &config.IronicConfig{EndpointConfig: config.EndpointConfig{Endpoint: "http://ironic"}}
	w, err := Factory(cfg)
	require.NoError(t, err)
	assert.Equal(t, Name, w.Name())
	_, ok := w.(worker.Importer)
	assert.True(t, ok)
}

func TestAppliesTo(t *testing.T) {
	t.Parallel()

	w := New(nil)
	assert.True(t, w.AppliesTo(testHardware()))
	assert.False(t, w.AppliesTo(&hardware.Hardware{Properties: map[string]any{}}))
}
