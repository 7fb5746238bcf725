package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", path)
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data, path)
}

// Parse expands environment references in data, decodes it and
// validates the result. Unknown keys are errors; an empty document is
// the zero Config. source names data in error messages.
func Parse(data []byte, source string) (*Config, error) {
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid YAML in %s: %w", source, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", source, err)
	}
	return &cfg, nil
}
