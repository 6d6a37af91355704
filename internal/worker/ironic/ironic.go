// Package ironic implements the worker that enrolls bare metal nodes in the
// OpenStack Ironic provisioning service and keeps them in sync.
//
// Provision state changes are asynchronous in Ironic. The worker requests a
// transition and polls the node until it lands, bounded by the provision
// timeout. A node is reported SUCCESS once it is available and its attributes
// and ports match the hardware record.
package ironic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

const (
	// Name is the worker type.
	Name = "ironic"

	// APIVersionHeader carries the Ironic microversion.
	APIVersionHeader = "X-OpenStack-Ironic-API-Version"

	// DefaultProvisionTimeout bounds the wait for one provision state change.
	DefaultProvisionTimeout = 45 * time.Second
	// DefaultPollInterval is the delay between node reads while waiting.
	DefaultPollInterval = 5 * time.Second

	reasonLocked      = "Node is locked."
	reasonInvalid     = "Invalid State Transition."
	reasonTimeout     = "Failed to change provision state."
	reasonMaintenance = "Node is in maintenance mode. Please take the node out of maintenance to apply this update."
)

// Provision states the worker reacts to.
const (
	stateEnroll     = "enroll"
	stateManageable = "manageable"
	stateAvailable  = "available"
)

// settlingStates are transient states Ironic leaves on its own.
var settlingStates = map[string]bool{
	"verifying":    true,
	"cleaning":     true,
	"clean wait":   true,
	"inspecting":   true,
	"inspect wait": true,
}

var errProvisionPending = errors.New("provision state change pending")

// provisionTargets maps a provision state to the verb that reaches it.
var provisionTargets = map[string]string{
	stateManageable: "manage",
	stateAvailable:  "provide",
}

// capabilityKeys are the node capabilities operators may set.
var capabilityKeys = map[string][]string{
	"boot_option":  {"local", "netboot", "ramdisk", "kickstart"},
	"boot_mode":    {"bios", "uefi"},
	"secure_boot":  {"true", "false"},
	"trusted_boot": {"true", "false"},
	"disk_label":   {"msdos", "gpt"},
}

// Worker syncs hardware to Ironic nodes and ports.
type Worker struct {
	client           httpclient.Client
	provisionTimeout time.Duration
	pollInterval     time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithProvisionWait sets how long a provision state change may take and how
// often the node is read meanwhile.
func WithProvisionWait(timeout, poll time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.provisionTimeout = timeout
		}
		if poll > 0 {
			w.pollInterval = poll
		}
	}
}

// New creates a worker that talks to Ironic through client.
func New(client httpclient.Client, opts ...Option) *Worker {
	w := &Worker{
		client:           client,
		provisionTimeout: DefaultProvisionTimeout,
		pollInterval:     DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Factory builds the worker from the ironic configuration section.
func Factory(cfg *config.Config) (worker.Worker, error) {
	ic := cfg.Workers.Ironic
	if ic == nil {
		return nil, fmt.Errorf("%s: workers.ironic is not configured", Name)
	}
	client, err := worker.NewEndpointClient(Name, &ic.EndpointConfig, httpclient.WithAuthToken,
		httpclient.WithHeader(APIVersionHeader, ic.GetAPIVersion()))
	if err != nil {
		return nil, err
	}
	return New(client, WithProvisionWait(ic.GetProvisionTimeout(), ic.GetPollInterval())), nil
}

// Name implements worker.Worker.
func (*Worker) Name() string {
	return Name
}

// Fields implements worker.Worker.
func (*Worker) Fields() []worker.Field {
	capabilities := map[string]any{}
	for key, values := range capabilityKeys {
		capabilities[key] = worker.EnumSchema(values...)
	}
	return []worker.Field{
		{
			Name:        "baremetal_driver",
			Schema:      worker.EnumSchema("ipmi"),
			Default:     "ipmi",
			Private:     true,
			Description: "The Ironic hardware driver that will control this node. Currently only 'ipmi' is supported.",
		},
		{
			Name:        "baremetal_resource_class",
			Schema:      worker.StringSchema(),
			Default:     "baremetal",
			Private:     true,
			Description: "The Ironic node resource class, used to map instance requests onto nodes.",
		},
		{
			Name:        "baremetal_deploy_kernel_image",
			Schema:      worker.UUIDSchema(),
			Private:     true,
			Description: "The image UUID of the deployment kernel. Ironic's default is used when unset.",
		},
		{
			Name:        "baremetal_deploy_ramdisk_image",
			Schema:      worker.UUIDSchema(),
			Private:     true,
			Description: "The image UUID of the deployment ramdisk. Ironic's default is used when unset.",
		},
		{
			Name:        "baremetal_capabilities",
			Schema:      worker.ObjectSchema(capabilities),
			Private:     true,
			Description: "Additional Ironic capabilities to set on the node.",
		},
		{
			Name:        "ipmi_username",
			Schema:      worker.StringSchema(),
			Private:     true,
			Description: "The IPMI username. Only used with the 'ipmi' driver.",
		},
		{
			Name:        "ipmi_password",
			Schema:      worker.StringSchema(),
			Private:     true,
			Sensitive:   true,
			Description: "The IPMI password. Only used with the 'ipmi' driver.",
		},
		{
			Name:        "ipmi_port",
			Schema:      worker.PortSchema(),
			Private:     true,
			Description: "The remote IPMI RMCP port. Defaults to 623.",
		},
		{
			Name:        "ipmi_terminal_port",
			Schema:      worker.PortSchema(),
			Private:     true,
			Description: "A free local port on the Ironic host used to serve the node's remote console.",
		},
	}
}

// AppliesTo implements worker.Worker. Nodes without a management address
// cannot be controlled.
func (*Worker) AppliesTo(hw *hardware.Hardware) bool {
	return hw.StringProperty("management_address") != ""
}

// Process implements worker.Worker.
func (w *Worker) Process(ctx context.Context, hw *hardware.Hardware, _ *state.WorkerState) (worker.Result, error) {
	nodeID := hw.ID.String()
	desired := desiredNode(hw)
	ifaces, err := interfacesOf(hw)
	if err != nil {
		return worker.Result{}, worker.Terminal(err)
	}

	resp, err := w.client.Get(ctx, "/v1/nodes/"+nodeID, http.StatusNotFound)
	if err != nil {
		return w.handle(err)
	}
	if resp.StatusCode == http.StatusNotFound || !resp.Get("uuid").Exists() {
		return w.create(ctx, nodeID, desired, ifaces)
	}

	var existing map[string]any
	if err := resp.Decode(&existing); err != nil {
		return worker.Result{}, worker.Transient(err)
	}
	if resp.Get("maintenance").Bool() {
		return worker.Retry(reasonMaintenance, nil), nil
	}

	payload := successPayload(existing)
	provision := resp.Get("provision_state").String()

	patch, err := nodePatch(existing, desired)
	if err != nil {
		return worker.Result{}, worker.Terminal(err)
	}
	ports, err := w.listPorts(ctx, nodeID)
	if err != nil {
		return w.handle(err)
	}
	plan, err := planPorts(nodeID, ports, ifaces)
	if err != nil {
		return worker.Result{}, worker.Terminal(err)
	}

	if len(patch) > 0 || !plan.empty() {
		if provision != stateEnroll && provision != stateManageable {
			if err := w.waitForProvisionState(ctx, nodeID, provision, stateManageable); err != nil {
				return provisionFailed(err, payload)
			}
			provision = stateManageable
		}
		if len(patch) > 0 {
			updated, err := w.client.Patch(ctx, "/v1/nodes/"+nodeID, patch)
			if err != nil {
				return w.handle(err)
			}
			if ts := updated.Get("created_at"); ts.Exists() {
				payload["created_at"] = ts.Value()
			}
			slog.InfoContext(ctx, "Updated Ironic node", "node", nodeID, "operations", len(patch))
		}
		if err := w.applyPorts(ctx, nodeID, plan); err != nil {
			return w.handle(err)
		}
	}

	return w.makeAvailable(ctx, nodeID, provision, payload)
}

func (w *Worker) create(ctx context.Context, nodeID string, desired map[string]any, ifaces []iface) (worker.Result, error) {
	resp, err := w.client.Post(ctx, "/v1/nodes", compact(desired))
	if err != nil {
		return w.handle(err)
	}
	var node map[string]any
	if err := resp.Decode(&node); err != nil {
		return worker.Result{}, worker.Transient(err)
	}
	slog.InfoContext(ctx, "Created Ironic node", "node", nodeID)

	plan, err := planPorts(nodeID, nil, ifaces)
	if err != nil {
		return worker.Result{}, worker.Terminal(err)
	}
	if err := w.applyPorts(ctx, nodeID, plan); err != nil {
		return w.handle(err)
	}

	provision, _ := node["provision_state"].(string)
	if provision == "" {
		provision = stateEnroll
	}
	return w.makeAvailable(ctx, nodeID, provision, successPayload(node))
}

// makeAvailable moves a node from provision through manageable to available.
// Nodes in any other stable state are left alone.
func (w *Worker) makeAvailable(
	ctx context.Context, nodeID, provision string, payload map[string]any,
) (worker.Result, error) {
	if settlingStates[provision] {
		settled, err := w.awaitProvisionState(ctx, nodeID, func(s string) bool { return !settlingStates[s] })
		if err != nil {
			return provisionFailed(err, payload)
		}
		provision = settled
	}
	if provision == stateEnroll {
		if err := w.waitForProvisionState(ctx, nodeID, provision, stateManageable); err != nil {
			return provisionFailed(err, payload)
		}
		provision = stateManageable
	}
	if provision == stateManageable {
		if err := w.waitForProvisionState(ctx, nodeID, provision, stateAvailable); err != nil {
			return provisionFailed(err, payload)
		}
	}
	return worker.Success(payload), nil
}

// waitForProvisionState requests the transition from the current state to
// target and waits until the node reports target.
func (w *Worker) waitForProvisionState(ctx context.Context, nodeID, current, target string) error {
	if current == target {
		return nil
	}
	body := map[string]any{"target": provisionTargets[target]}
	if _, err := w.client.Put(ctx, "/v1/nodes/"+nodeID+"/states/provision", body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Requested Ironic provision state change",
		"node", nodeID, "from", current, "target", target)

	_, err := w.awaitProvisionState(ctx, nodeID, func(s string) bool { return s == target })
	return err
}

// awaitProvisionState polls the node until done accepts its provision state
// and returns that state.
func (w *Worker) awaitProvisionState(ctx context.Context, nodeID string, done func(string) bool) (string, error) {
	read := func() (string, error) {
		resp, err := w.client.Get(ctx, "/v1/nodes/"+nodeID)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		provision := resp.Get("provision_state").String()
		if !done(provision) {
			return provision, errProvisionPending
		}
		return provision, nil
	}
	provision, err := backoff.Retry(ctx, read,
		backoff.WithBackOff(backoff.NewConstantBackOff(w.pollInterval)),
		backoff.WithMaxElapsedTime(w.provisionTimeout),
	)
	if errors.Is(err, errProvisionPending) {
		return provision, fmt.Errorf("node %s stuck in provision state %q: %w", nodeID, provision, err)
	}
	return provision, err
}

// provisionFailed maps a failed provision state change to a result.
func provisionFailed(err error, payload map[string]any) (worker.Result, error) {
	switch {
	case errors.Is(err, errProvisionPending):
		slog.Debug("Ironic provision state change timed out", "error", err)
		return worker.Retry(reasonTimeout, payload), nil
	case httpclient.IsStatus(err, http.StatusBadRequest):
		return worker.Retry(reasonInvalid, payload), nil
	case httpclient.IsStatus(err, http.StatusConflict):
		return worker.Retry(reasonLocked, payload), nil
	default:
		return worker.Result{}, worker.Classify(err)
	}
}

// handle maps a backend error to a result. A locked node is retried.
func (*Worker) handle(err error) (worker.Result, error) {
	if httpclient.IsStatus(err, http.StatusConflict) {
		return worker.Retry(reasonLocked, nil), nil
	}
	return worker.Result{}, worker.Classify(err)
}

func successPayload(node map[string]any) map[string]any {
	return map[string]any{"created_at": node["created_at"]}
}
