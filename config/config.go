// Package config loads a cache.Config from YAML or JSON.
//
// Durations use Go syntax ("250ms"); capacity accepts either a byte count or a
// human size ("64MB", binary multiples). Example:
//
//	capacity: 64MB
//	shards: 8
//	flows:
//	  "*":
//	    default_wait: 1s
//	  orders:
//	    default_wait: 200ms
//	    max_wait: 5s
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/IvanBrykalov/asyncmem/cache"
)

// Format names a configuration encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var (
	// ErrUnsupportedFormat is returned for unknown formats or file extensions.
	ErrUnsupportedFormat = errors.New("config: unsupported format")
	// ErrParse wraps decoding failures.
	ErrParse = errors.New("config: parse failed")
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// Load reads and parses the file at path.
func Load(path string) (cache.Config, error) {
	f, err := FormatOf(path)
	if err != nil {
		return cache.Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cache.Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data, f)
}

// Parse decodes data and validates the result.
func Parse(data []byte, format Format) (cache.Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return cache.Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return cache.Config{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := normalizeCapacity(k); err != nil {
		return cache.Config{}, err
	}

	var cfg cache.Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cache.Config{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return cache.Config{}, err
	}
	return cfg, nil
}

// normalizeCapacity turns a human size into a byte count in place.
func normalizeCapacity(k *koanf.Koanf) error {
	s, ok := k.Get("capacity").(string)
	if !ok {
		return nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return fmt.Errorf("%w: capacity %q: %w", ErrParse, s, err)
	}
	return k.Set("capacity", n)
}
