package blazar

import (
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/worker"
)

// DeviceName is the worker type for edge devices.
const DeviceName = "blazar.device"

// NewDevice creates the worker that registers edge devices in Blazar.
func NewDevice(client httpclient.Client) *Worker {
	return &Worker{
		client: client,
		kind: resourceKind{
			name:         DeviceName,
			path:         "/devices",
			resourceType: "device",
			matchKey:     "name",
			fields: []worker.Field{
				{
					Name:        "blazar_device_driver",
					Schema:      worker.EnumSchema("k8s"),
					Default:     "k8s",
					Required:    true,
					Description: "Which Blazar device driver plugin makes the device reservable.",
				},
			},
			state: deviceState,
		},
	}
}

// DeviceFactory builds the device worker from configuration.
var DeviceFactory = newFactory(NewDevice)

func deviceState(hw *hardware.Hardware) map[string]any {
	s := map[string]any{
		"uid":         hw.ID.String(),
		"device_name": hw.Name,
	}
	if v := hw.StringProperty("blazar_device_driver"); v != "" {
		s["device_driver"] = v
	}
	if v := hw.StringProperty("device_type"); v != "" {
		s["machine_name"] = v
	}
	return s
}
