package ironic

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/chameleoncloud/doni/internal/worker"
)

// HardwareType is the hardware type imported nodes are enrolled as.
const HardwareType = "baremetal"

var maskedValue = regexp.MustCompile(`^\*+$`)

// ImportExisting implements worker.Importer. Nodes whose IPMI password Ironic
// masks are skipped, since enrolling them would overwrite the real secret.
func (w *Worker) ImportExisting(ctx context.Context) ([]worker.Imported, error) {
	resp, err := w.client.Get(ctx, "/v1/nodes?detail=True")
	if err != nil {
		return nil, worker.Classify(err)
	}

	var imported []worker.Imported
	for _, node := range resp.Get("nodes").Array() {
		nodeID := node.Get("uuid").String()
		driverInfo := node.Get("driver_info")

		if maskedValue.MatchString(driverInfo.Get("ipmi_password").String()) {
			slog.WarnContext(ctx, "Skipping Ironic node with masked IPMI password; "+
				"allow Ironic to show secrets to admin requests to import it", "node", nodeID)
			continue
		}

		ports, err := w.listPorts(ctx, nodeID)
		if err != nil {
			return nil, worker.Classify(err)
		}
		interfaces := make([]any, 0, len(ports))
		for _, p := range ports {
			name, _ := p.Extra["name"].(string)
			if name == "" {
				name = p.UUID
			}
			entry := map[string]any{
				"name":        name,
				"mac_address": p.Address,
			}
			for key, llcKey := range map[string]string{
				"switch_id":      "switch_id",
				"switch_port_id": "port_id",
				"switch_info":    "switch_info",
			} {
				if v, ok := p.LocalLinkConnection[llcKey].(string); ok && v != "" {
					entry[key] = v
				}
			}
			interfaces = append(interfaces, entry)
		}

		props := map[string]any{
			"baremetal_driver":         node.Get("driver").String(),
			"baremetal_resource_class": node.Get("resource_class").String(),
			"management_address":       driverInfo.Get("ipmi_address").String(),
			"interfaces":               interfaces,
		}
		setIfPresent(props, "baremetal_deploy_kernel_image", driverInfo.Get("deploy_kernel"))
		setIfPresent(props, "baremetal_deploy_ramdisk_image", driverInfo.Get("deploy_ramdisk"))
		setIfPresent(props, "cpu_arch", node.Get("properties.cpu_arch"))
		setIfPresent(props, "ipmi_username", driverInfo.Get("ipmi_username"))
		setIfPresent(props, "ipmi_password", driverInfo.Get("ipmi_password"))
		setPortIfPresent(props, "ipmi_port", driverInfo.Get("ipmi_port"))
		setPortIfPresent(props, "ipmi_terminal_port", driverInfo.Get("ipmi_terminal_port"))
		if caps := parseCapabilities(node.Get("properties.capabilities").String()); caps != nil {
			props["baremetal_capabilities"] = caps
		}

		imported = append(imported, worker.Imported{
			ID:           nodeID,
			Name:         node.Get("name").String(),
			HardwareType: HardwareType,
			Properties:   props,
		})
	}
	return imported, nil
}

func setIfPresent(props map[string]any, key string, v gjson.Result) {
	if !v.Exists() || v.Type == gjson.Null {
		return
	}
	if v.Type == gjson.String && v.Str == "" {
		return
	}
	props[key] = v.Value()
}

// setPortIfPresent stores a port number. Ironic keeps driver_info values as
// strings or numbers interchangeably.
func setPortIfPresent(props map[string]any, key string, v gjson.Result) {
	if port := v.Int(); port > 0 {
		props[key] = port
	}
}
