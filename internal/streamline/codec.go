package streamline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"sockline/infrastructure"
)

// Envelope is the wire frame exchanged in both directions: a named event,
// an opaque payload, and optional per-frame options.
type Envelope struct {
	Event   string
	Payload any
	Options map[string]any
}

type wireEnvelope struct {
	Event   string         `json:"event"`
	Payload any            `json:"payload"`
	Options map[string]any `json:"options,omitempty"`
}

// jsonShaped matches strings that look like JSON: quoted strings, arrays,
// objects, or short plain numbers. Everything else passes through untouched.
var jsonShaped = regexp.MustCompile(`^\s*["\[{]|^\s*-?\d[\d.]{0,14}\s*$`)

// Encode serializes an event frame for the wire.
func Encode(event string, payload any, options map[string]any) ([]byte, error) {
	data, err := json.Marshal(wireEnvelope{Event: event, Payload: payload, Options: options})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q frame: %w", event, err)
	}
	return data, nil
}

// Decode parses an inbound frame. The frame must carry a non-empty event
// name; the payload may live under "payload" or "data".
func Decode(data []byte) (*Envelope, error) {
	obj, ok := Parse(string(data)).(map[string]any)
	if !ok {
		return nil, infrastructure.ErrMalformedFrame
	}

	event, _ := obj["event"].(string)
	if event == "" {
		return nil, infrastructure.ErrMalformedFrame
	}

	payload := obj["payload"]
	if payload == nil {
		payload = obj["data"]
	}

	options, _ := obj["options"].(map[string]any)

	return &Envelope{Event: event, Payload: payload, Options: options}, nil
}

// Parse is a tolerant JSON reader. Scalar literals become typed values,
// strings that are not JSON-shaped come back unchanged, and decoded objects
// are stripped of prototype-pollution keys. It never fails: unparseable
// input is returned as the original string.
func Parse(value string) any {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true":
		return true
	case "false":
		return false
	case "null", "undefined":
		return nil
	case "nan":
		return math.NaN()
	case "infinity":
		return math.Inf(1)
	}

	if !jsonShaped.MatchString(value) {
		return value
	}

	var out any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return value
	}

	return sanitize(out)
}

// sanitize drops "__proto__" keys and "constructor" keys that carry a
// prototype, mirroring the guard the browser clients rely on.
func sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for key, val := range t {
			if key == "__proto__" {
				delete(t, key)
				continue
			}
			if key == "constructor" {
				if obj, ok := val.(map[string]any); ok {
					if _, has := obj["prototype"]; has {
						delete(t, key)
						continue
					}
				}
			}
			t[key] = sanitize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = sanitize(val)
		}
		return t
	}
	return v
}

// Bind re-decodes a parsed payload into a typed struct. Handlers use it to
// read the fields they care about from the generic frame payload.
func Bind(payload any, dst any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to bind payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to bind payload: %w", err)
	}
	return nil
}
