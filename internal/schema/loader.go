package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk YAML layout for schema overrides.
type schemaFile struct {
	Schemas []*Schema `yaml:"schemas"`
}

// LoadFile reads a YAML schema file and returns a registry built from it.
// Activity types not present in the file fall back to the built-in schema, so
// a deployment can override a single activity without redeclaring the rest.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %q: %w", path, err)
	}
	defer f.Close()

	reg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("schema: parse %q: %w", path, err)
	}
	return reg, nil
}

// LoadFromReader decodes YAML schema overrides from r and merges them over
// the built-ins. Useful in tests where overrides are string literals.
func LoadFromReader(r io.Reader) (*Registry, error) {
	var file schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}

	overridden := make(map[ActivityType]*Schema, len(file.Schemas))
	for _, s := range file.Schemas {
		if _, dup := overridden[s.Type]; dup {
			return nil, fmt.Errorf("schema: duplicate override for %q", s.Type)
		}
		overridden[s.Type] = s
	}

	merged := make([]*Schema, 0, 4)
	for _, builtin := range []*Schema{fitnessSchema(), cricketCoachingSchema(), cricketMatchSchema(), restDaySchema()} {
		if override, ok := overridden[builtin.Type]; ok {
			merged = append(merged, override)
			delete(overridden, builtin.Type)
			continue
		}
		merged = append(merged, builtin)
	}
	for t := range overridden {
		return nil, fmt.Errorf("schema: override for unknown activity type %q", t)
	}

	return NewRegistry(merged...)
}
