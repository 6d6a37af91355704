package ironic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"gomodules.xyz/jsonpatch/v2"

	"github.com/chameleoncloud/doni/internal/hardware"
)

// iface is one entry of the hardware "interfaces" property.
type iface struct {
	Name         string `json:"name"`
	Enabled      *bool  `json:"enabled,omitempty"`
	MACAddress   string `json:"mac_address"`
	SwitchID     string `json:"switch_id,omitempty"`
	SwitchPortID string `json:"switch_port_id,omitempty"`
	SwitchInfo   string `json:"switch_info,omitempty"`
	PXEEnabled   *bool  `json:"pxe_enabled,omitempty"`
}

func (i iface) enabled() bool {
	return i.Enabled == nil || *i.Enabled
}

// port is an Ironic port as returned by the detailed port listing.
type port struct {
	UUID                string         `json:"uuid"`
	Address             string         `json:"address"`
	Extra               map[string]any `json:"extra"`
	LocalLinkConnection map[string]any `json:"local_link_connection"`
	PXEEnabled          bool           `json:"pxe_enabled"`
}

type portUpdate struct {
	uuid  string
	patch []jsonpatch.Operation
}

// portPlan lists the port changes needed to match the hardware interfaces.
type portPlan struct {
	create []map[string]any
	update []portUpdate
	remove []string
}

func (p *portPlan) empty() bool {
	return len(p.create) == 0 && len(p.update) == 0 && len(p.remove) == 0
}

func interfacesOf(hw *hardware.Hardware) ([]iface, error) {
	raw, ok := hw.Properties["interfaces"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid interfaces property: %w", err)
	}
	var ifaces []iface
	if err := json.Unmarshal(data, &ifaces); err != nil {
		return nil, fmt.Errorf("invalid interfaces property: %w", err)
	}
	return ifaces, nil
}

func (w *Worker) listPorts(ctx context.Context, nodeID string) ([]port, error) {
	resp, err := w.client.Get(ctx, "/v1/ports?node="+url.QueryEscape(nodeID)+"&detail=True")
	if err != nil {
		return nil, err
	}
	var body struct {
		Ports []port `json:"ports"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.Ports, nil
}

func desiredPortState(i iface) map[string]any {
	pxe := true
	if i.PXEEnabled != nil {
		pxe = *i.PXEEnabled
	}
	llc := map[string]any{}
	if i.SwitchID != "" && i.SwitchPortID != "" {
		llc = map[string]any{
			"switch_id":   i.SwitchID,
			"port_id":     i.SwitchPortID,
			"switch_info": i.SwitchInfo,
		}
	}
	return map[string]any{
		"extra":                 map[string]any{"name": i.Name},
		"local_link_connection": llc,
		"pxe_enabled":           pxe,
	}
}

// planPorts matches ports to enabled interfaces by lower-cased MAC address.
func planPorts(nodeID string, ports []port, ifaces []iface) (*portPlan, error) {
	byMAC := make(map[string]port, len(ports))
	for _, p := range ports {
		byMAC[strings.ToLower(p.Address)] = p
	}
	wanted := make(map[string]iface, len(ifaces))
	for _, i := range ifaces {
		if i.enabled() {
			wanted[strings.ToLower(i.MACAddress)] = i
		}
	}

	plan := &portPlan{}
	for _, mac := range sortedKeys(wanted) {
		i := wanted[mac]
		p, exists := byMAC[mac]
		if !exists {
			body := desiredPortState(i)
			body["node_uuid"] = nodeID
			body["address"] = i.MACAddress
			plan.create = append(plan.create, body)
			continue
		}

		current := map[string]any{
			"extra":                 deepCopy(mapOrEmpty(p.Extra)),
			"local_link_connection": deepCopy(mapOrEmpty(p.LocalLinkConnection)),
			"pxe_enabled":           p.PXEEnabled,
		}
		desired := desiredPortState(i)
		normalizeForPatch(subMap(current, "extra"), subMap(desired, "extra"))
		normalizeForPatch(subMap(current, "local_link_connection"), subMap(desired, "local_link_connection"))
		patch, err := diff(current, desired)
		if err != nil {
			return nil, err
		}
		if len(patch) > 0 {
			plan.update = append(plan.update, portUpdate{uuid: p.UUID, patch: patch})
		}
	}
	for _, mac := range sortedKeys(byMAC) {
		if _, ok := wanted[mac]; !ok {
			plan.remove = append(plan.remove, byMAC[mac].UUID)
		}
	}
	return plan, nil
}

func (w *Worker) applyPorts(ctx context.Context, nodeID string, plan *portPlan) error {
	for _, body := range plan.create {
		resp, err := w.client.Post(ctx, "/v1/ports", body)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Created Ironic port", "node", nodeID, "port", resp.Get("uuid").String())
	}
	for _, u := range plan.update {
		if _, err := w.client.Patch(ctx, "/v1/ports/"+u.uuid, u.patch); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Updated Ironic port", "node", nodeID, "port", u.uuid)
	}
	for _, id := range plan.remove {
		if _, err := w.client.Delete(ctx, "/v1/ports/"+id); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Deleted Ironic port", "node", nodeID, "port", id)
	}
	return nil
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
