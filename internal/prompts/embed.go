package prompts

import (
	"embed"
	"io/fs"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

// DefaultsFS returns the embedded filesystem of built-in prompt texts.
func DefaultsFS() fs.FS {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		return defaultsFS
	}
	return sub
}
