// Package hwtype defines hardware types: which workers a kind of hardware is
// reconciled by and which properties it accepts.
package hwtype

import (
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/internal/worker/balena"
	"github.com/chameleoncloud/doni/internal/worker/blazar"
	"github.com/chameleoncloud/doni/internal/worker/fake"
	"github.com/chameleoncloud/doni/internal/worker/ironic"
	"github.com/chameleoncloud/doni/internal/worker/k8s"
	"github.com/chameleoncloud/doni/internal/worker/tunelo"
)

// Built-in hardware type names.
const (
	Baremetal    = "baremetal"
	BalenaDevice = "device.balena"
	Fake         = "fake"
)

// HardwareType is a kind of hardware.
type HardwareType struct {
	Name        string
	Description string
	// DefaultWorkers lists the workers that reconcile this type, in order.
	DefaultWorkers []string
	// Fields are properties of the type itself, independent of any worker.
	Fields []worker.Field
	// WorkerOverrides force worker field values. Users cannot change them.
	WorkerOverrides map[string]any
}

// BuiltinTypes returns the hardware types shipped with doni.
func BuiltinTypes() []HardwareType {
	return []HardwareType{baremetalType(), balenaDeviceType(), fakeType()}
}

func baremetalType() HardwareType {
	iface := worker.ObjectSchema(map[string]any{
		"name":           worker.StringSchema(),
		"enabled":        map[string]any{"type": "boolean"},
		"mac_address":    worker.StringSchema(),
		"vendor":         worker.StringSchema(),
		"model":          worker.StringSchema(),
		"switch_id":      worker.StringSchema(),
		"switch_port_id": worker.StringSchema(),
		"switch_info":    worker.StringSchema(),
		"pxe_enabled":    map[string]any{"type": "boolean"},
	}, "name", "mac_address")
	interfaces := worker.ArraySchema(iface)
	interfaces["minItems"] = 1

	return HardwareType{
		Name:           Baremetal,
		Description:    "A bare metal node provisioned through Ironic and reservable in Blazar.",
		DefaultWorkers: []string{blazar.PhysicalHostName, ironic.Name},
		Fields: []worker.Field{
			{
				Name:        "management_address",
				Schema:      worker.HostOrIPSchema(),
				Required:    true,
				Private:     true,
				Description: "The out-of-band management address of the node.",
			},
			{
				Name:        "interfaces",
				Schema:      interfaces,
				Required:    true,
				Description: "The network interfaces of the node.",
			},
			{
				Name:        "cpu_arch",
				Schema:      worker.EnumSchema("x86_64", "aarch64"),
				Default:     "x86_64",
				Required:    true,
				Description: "The CPU architecture of the node.",
			},
		},
	}
}

func balenaDeviceType() HardwareType {
	channel := worker.ObjectSchema(map[string]any{
		"channel_type": worker.EnumSchema("wireguard"),
		"public_key":   worker.StringSchema(),
	}, "channel_type")
	channels := worker.ObjectSchema(map[string]any{
		"user": channel,
		"mgmt": channel,
	}, "user")

	return HardwareType{
		Name:           BalenaDevice,
		Description:    "An edge device running BalenaOS that joins a Kubernetes edge cluster.",
		DefaultWorkers: []string{balena.Name, blazar.DeviceName, k8s.Name, tunelo.Name},
		Fields: []worker.Field{
			{
				Name:        "device_type",
				Schema:      worker.EnumSchema("jetson-nano", "raspberrypi3-64", "raspberrypi4-64"),
				Required:    true,
				Description: "The type of device. Only explicitly supported device types are accepted.",
			},
			{
				Name:        "contact_email",
				Schema:      map[string]any{"type": "string", "format": "email"},
				Required:    true,
				Private:     true,
				Description: "A contact address for communication about the device. Enrollment credentials may be sent here.",
			},
			{
				Name:     "channels",
				Schema:   channels,
				Required: true,
				Private:  true,
				Description: "The communication channels of the device. A 'user' channel carries workload " +
					"traffic; a 'mgmt' channel is often needed to configure the device.",
			},
		},
		WorkerOverrides: map[string]any{"blazar_device_driver": "k8s"},
	}
}

func fakeType() HardwareType {
	return HardwareType{
		Name:           Fake,
		Description:    "Hardware that touches no backend, for development and testing.",
		DefaultWorkers: []string{fake.Name},
		Fields: []worker.Field{
			{Name: "default_field", Schema: worker.StringSchema()},
			{Name: "default_required_field", Schema: worker.StringSchema(), Required: true},
		},
	}
}
