package schema

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed versions/*.json
var versionFiles embed.FS

// EmbeddedSource resolves schema versions from documents compiled into the
// binary. Versions evolve by adding a file, not by editing validator code.
func EmbeddedSource(version string) (map[string]any, error) {
	raw, err := versionFiles.ReadFile("versions/" + version + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema version %q", version)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", version, err)
	}
	return doc, nil
}
