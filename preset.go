package rpcprobe

import (
	"encoding/json"
	"fmt"
	"os"
)

// Preset is a pre-defined request template loaded at startup.
// An entry with an empty Method is kept in the list so indices still match
// the preset file; it is reported as invalid when selected, not at load time.
type Preset struct {
	Method string
	Params map[string]any
}

// Valid reports whether the preset can be sent as a request.
func (p Preset) Valid() bool {
	return p.Method != ""
}

// ParsePresets decodes a JSON array of {method, params} objects.
// Malformed elements and non-object params are tolerated: the element is
// kept with whatever fields could be read, so a bad entry surfaces as an
// invalid preset at selection time rather than failing the whole file.
func ParsePresets(data []byte) ([]Preset, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("preset file must be a JSON array: %w", err)
	}
	presets := make([]Preset, 0, len(elems))
	for _, raw := range elems {
		var loose map[string]json.RawMessage
		var p Preset
		if err := json.Unmarshal(raw, &loose); err == nil {
			if m, ok := loose["method"]; ok {
				json.Unmarshal(m, &p.Method)
			}
			if params, ok := loose["params"]; ok {
				json.Unmarshal(params, &p.Params)
			}
		}
		presets = append(presets, p)
	}
	return presets, nil
}

// LoadPresets reads and parses a preset file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePresets(data)
}
