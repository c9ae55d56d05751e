package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	bterr "btserial/internal/errors"
)

// LoadFile overlays the YAML file at path onto cfg.  Keys absent from
// the file keep their current value; unknown keys are an error so a
// typo does not silently fall back to a default.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &bterr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: err.Error(),
		}
	}
	return decode(data, path, cfg)
}

func decode(data []byte, path string, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &bterr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: "parse: " + err.Error(),
			Hint:    "keys use snake_case, e.g. fallback_channel: 1",
		}
	}
	if cfg.Delimiter != "" {
		cfg.Delimiter = ParseDelimiter(cfg.Delimiter)
	}
	return nil
}
