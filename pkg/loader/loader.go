package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

// ParseYAML decodes a YAML or JSON definition. Unknown fields are rejected.
func ParseYAML(src []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return &def, nil
}

// ParseFile reads a definition, choosing the format from the extension.
func ParseFile(path string) (*Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		def, err := ParseYAML(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return def, nil
	case ".hcl":
		return ParseHCL(src, path)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", ext)
	}
}

// LoadFile parses path and applies it to m.
func LoadFile(ctx context.Context, m *graph.Manager, path string) (*Definition, error) {
	def, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if err := def.Apply(ctx, m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Logger().Debug("definition loaded", "path", path, "nodes", len(def.Nodes), "edges", len(def.Edges))
	return def, nil
}
