package blazar

import (
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/worker"
)

// PhysicalHostName is the worker type for bare metal hosts.
const PhysicalHostName = "blazar.physical_host"

// NewPhysicalHost creates the worker that registers bare metal nodes as
// Blazar hosts. Hosts are created with the hardware UUID as name, which is
// what the compute service reports as hypervisor hostname.
func NewPhysicalHost(client httpclient.Client) *Worker {
	return &Worker{
		client: client,
		kind: resourceKind{
			name:         PhysicalHostName,
			path:         "/os-hosts",
			resourceType: "host",
			matchKey:     "hypervisor_hostname",
			fields: []worker.Field{
				{
					Name:        "node_type",
					Schema:      worker.StringSchema(),
					Description: "A high-level classification of the type of node.",
				},
				{
					Name: "placement",
					Schema: worker.ObjectSchema(map[string]any{
						"rack": worker.StringSchema(),
						"node": worker.StringSchema(),
					}),
					Description: "Information about the physical placement of the node.",
				},
				{
					Name:        "su_factor",
					Schema:      worker.NumberSchema(),
					Default:     1.0,
					Description: "The service unit (SU) hourly cost of the resource.",
				},
			},
			state: hostState,
		},
	}
}

// PhysicalHostFactory builds the physical host worker from configuration.
var PhysicalHostFactory = newFactory(NewPhysicalHost)

// hostState renders host extra capabilities. Blazar cannot delete extra
// capabilities, so unset properties are left out rather than nulled.
func hostState(hw *hardware.Hardware) map[string]any {
	s := map[string]any{
		"uid":       hw.ID.String(),
		"node_name": hw.Name,
	}
	for _, key := range []string{"node_type", "cpu_arch"} {
		if v := hw.StringProperty(key); v != "" {
			s[key] = v
		}
	}
	if v, ok := hw.Properties["su_factor"]; ok && v != nil {
		s["su_factor"] = v
	}
	if placement, ok := hw.Properties["placement"].(map[string]any); ok {
		for _, key := range []string{"node", "rack"} {
			if v, ok := placement[key].(string); ok && v != "" {
				s["placement."+key] = v
			}
		}
	}
	return s
}
