package ironic

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"gomodules.xyz/jsonpatch/v2"

	"github.com/chameleoncloud/doni/internal/hardware"
)

// desiredNode renders the Ironic node document for hw. Nil values mean
// "unset" and are removed from the node on update.
func desiredNode(hw *hardware.Hardware) map[string]any {
	props := hw.Properties
	if props == nil {
		props = map[string]any{}
	}
	return map[string]any{
		"uuid":   hw.ID.String(),
		"name":   hw.Name,
		"driver": valueOr(props["baremetal_driver"], "ipmi"),
		"driver_info": map[string]any{
			"ipmi_address":       props["management_address"],
			"ipmi_username":      props["ipmi_username"],
			"ipmi_password":      props["ipmi_password"],
			"ipmi_port":          props["ipmi_port"],
			"ipmi_terminal_port": props["ipmi_terminal_port"],
			"deploy_kernel":      props["baremetal_deploy_kernel_image"],
			"deploy_ramdisk":     props["baremetal_deploy_ramdisk_image"],
		},
		"resource_class": valueOr(props["baremetal_resource_class"], "baremetal"),
		"properties": map[string]any{
			"capabilities": capabilitiesString(props["baremetal_capabilities"]),
			"cpu_arch":     props["cpu_arch"],
		},
	}
}

func valueOr(v any, def any) any {
	if v == nil {
		return def
	}
	return v
}

// capabilitiesString renders capabilities in Ironic's "key:value,..." form,
// sorted by key. It returns nil when there is nothing to set.
func capabilitiesString(v any) any {
	caps, ok := v.(map[string]any)
	if !ok || len(caps) == 0 {
		return nil
	}
	keys := make([]string, 0, len(caps))
	for k := range caps {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", k, caps[k]))
	}
	return strings.Join(parts, ",")
}

// parseCapabilities is the inverse of capabilitiesString.
func parseCapabilities(s string) map[string]any {
	if s == "" {
		return nil
	}
	caps := map[string]any{}
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(part, ":")
		if !ok || key == "" {
			continue
		}
		caps[key] = value
	}
	if len(caps) == 0 {
		return nil
	}
	return caps
}

// normalizeForPatch makes desired keep keys only the backend knows about and
// drops nil values from both sides, so a nil desired value removes the key
// while a key already absent stays absent.
func normalizeForPatch(existing, desired map[string]any) {
	for k, v := range existing {
		if _, ok := desired[k]; !ok {
			desired[k] = v
		}
	}
	for k, v := range desired {
		if v != nil {
			continue
		}
		delete(desired, k)
		if existing[k] == nil {
			delete(existing, k)
		}
	}
}

// subMap returns m[key] as a map, replacing anything else with an empty map.
func subMap(m map[string]any, key string) map[string]any {
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	sub := map[string]any{}
	m[key] = sub
	return sub
}

// nodePatch computes the JSON patch that turns the node's current fields into
// the desired ones. Only fields present in desired are compared.
func nodePatch(node, desired map[string]any) ([]jsonpatch.Operation, error) {
	current := make(map[string]any, len(desired))
	for k := range desired {
		current[k] = deepCopy(node[k])
	}
	want := deepCopy(desired).(map[string]any)

	normalizeForPatch(subMap(current, "driver_info"), subMap(want, "driver_info"))
	normalizeForPatch(subMap(current, "properties"), subMap(want, "properties"))

	return diff(current, want)
}

func diff(from, to any) ([]jsonpatch.Operation, error) {
	a, err := json.Marshal(from)
	if err != nil {
		return nil, fmt.Errorf("failed to encode current document: %w", err)
	}
	b, err := json.Marshal(to)
	if err != nil {
		return nil, fmt.Errorf("failed to encode desired document: %w", err)
	}
	ops, err := jsonpatch.CreatePatch(a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to compute patch: %w", err)
	}
	return ops, nil
}

// compact returns a copy of m without nil values, recursively.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = compact(t)
		default:
			out[k] = v
		}
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
