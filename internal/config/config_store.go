package config

// PromptsConfig configures the call script registry.
type PromptsConfig struct {
	// Dir is a directory of script files. Empty uses the built-in scripts.
	Dir string `yaml:"dir"`

	// Watch reloads scripts when files in Dir change.
	Watch bool `yaml:"watch"`
}

// StoreConfig configures call record persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}
