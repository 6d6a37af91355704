package worker

// JSON schema fragments shared by worker and hardware type fields. Each call
// returns a fresh map so callers may extend it.

// StringSchema matches any string.
func StringSchema() map[string]any {
	return map[string]any{"type": "string"}
}

// UUIDSchema matches a UUID string.
func UUIDSchema() map[string]any {
	return map[string]any{"type": "string", "format": "uuid"}
}

// NumberSchema matches any number.
func NumberSchema() map[string]any {
	return map[string]any{"type": "number"}
}

// PortSchema matches a TCP/UDP port number.
func PortSchema() map[string]any {
	return map[string]any{"type": "integer", "minimum": 1, "maximum": 65535}
}

// EnumSchema matches one of the given strings.
func EnumSchema(values ...string) map[string]any {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return map[string]any{"type": "string", "enum": enum}
}

// ArraySchema matches an array whose items match items.
func ArraySchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

// HostOrIPSchema matches a hostname or an IPv4/IPv6 address.
func HostOrIPSchema() map[string]any {
	return map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string", "format": "hostname"},
			map[string]any{"type": "string", "format": "ipv4"},
			map[string]any{"type": "string", "format": "ipv6"},
		},
	}
}

// ObjectSchema matches an object with the given properties. Unknown keys are
// rejected.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}
