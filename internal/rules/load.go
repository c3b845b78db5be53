package rules

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Format of a rule file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var compileDefault = sync.OnceValues(func() (*Set, error) {
	f, err := Parse(defaultRules, FormatYAML)
	if err != nil {
		return nil, err
	}
	return f.Compile()
})

// Default returns the built-in rule set, compiled once and shared. It panics
// if the embedded data is invalid, which tests guard against.
func Default() *Set {
	s, err := compileDefault()
	if err != nil {
		panic(fmt.Sprintf("rules: embedded defaults: %v", err))
	}
	return s
}

// Load reads and compiles the rule file at path. An empty path returns the
// built-in rules. The format follows the file extension (.toml or YAML).
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", path, err)
	}
	f, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("parsing rules %s: %w", path, err)
	}
	return f.Compile()
}

// Parse decodes an authored rule file.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
	case FormatYAML:
		k := koanf.New(".")
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
		if err := k.Unmarshal("", &f); err != nil {
			return nil, fmt.Errorf("unmarshal rules: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rules format %q", format)
	}
	return &f, nil
}

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}
