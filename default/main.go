// Package defaults provides embedded default assets (config and presets).
package defaults

import _ "embed"

//go:embed default_config.toml
var DefaultConfigTOML []byte

//go:embed default_presets.json
var DefaultPresetsJSON []byte
