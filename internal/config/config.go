package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/throw-if-null/vibe/internal/paths"
)

// DefaultMaxRetries applies when a checks section omits max_retries.
const DefaultMaxRetries = 10

// CheckStep is one named shell command run as a validation check.
type CheckStep struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// ChecksConfig is the ordered list of steps plus the fix budget.
type ChecksConfig struct {
	Steps      []CheckStep `json:"steps"`
	MaxRetries int         `json:"max_retries"`
}

// ProjectConfig is the decoded .vibe configuration. A nil Checks means no
// checks are configured.
type ProjectConfig struct {
	Checks *ChecksConfig `json:"checks,omitempty"`
}

// Steps returns the configured steps, or nil when checks are absent.
func (c ProjectConfig) Steps() []CheckStep {
	if c.Checks == nil {
		return nil
	}
	return c.Checks.Steps
}

var (
	// ErrParse wraps syntax errors from the underlying decoder.
	ErrParse = errors.New("config parse error")
	// ErrInvalid wraps documents that parse but have the wrong shape or values.
	ErrInvalid = errors.New("invalid config")
)

// Format selects the document decoder.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// candidates are probed in order under <root>/.vibe.
var candidates = []string{"vibe.yaml", "vibe.yml", "vibe.toml"}

type LoadResult struct {
	Config     ProjectConfig
	Found      bool
	Path       string
	ParseError error
}

// Load reads the project configuration under root. A missing file is not an
// error: the result has Found=false and no checks.
func Load(root string) LoadResult {
	var res LoadResult
	for i, name := range candidates {
		path, err := paths.SafeJoin(root, filepath.Join(paths.DirName, name))
		if err != nil {
			res.ParseError = err
			return res
		}
		if i == 0 {
			res.Path = path
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			res.Path = path
			res.ParseError = err
			return res
		}
		res.Path = path
		res.Found = true
		res.Config, res.ParseError = LoadFile(path)
		return res
	}
	return res
}

// LoadFile decodes a single configuration file, picking the format from its
// extension.
func LoadFile(path string) (ProjectConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ProjectConfig{}, err
	}
	return Parse(b, formatFor(path))
}

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes data in the given format and validates it.
func Parse(data []byte, format Format) (ProjectConfig, error) {
	var tree any
	switch format {
	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return ProjectConfig{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		tree = m
	default:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return ProjectConfig{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	return fromTree(tree)
}

func fromTree(tree any) (ProjectConfig, error) {
	if tree == nil {
		return ProjectConfig{}, nil
	}
	top, ok := tree.(map[string]any)
	if !ok {
		return ProjectConfig{}, invalidf("top level must be a mapping, got %s", kindOf(tree))
	}
	raw, ok := top["checks"]
	if !ok || raw == nil {
		return ProjectConfig{}, nil
	}
	section, ok := raw.(map[string]any)
	if !ok {
		return ProjectConfig{}, invalidf("checks must be a mapping, got %s", kindOf(raw))
	}

	checks := &ChecksConfig{Steps: []CheckStep{}, MaxRetries: DefaultMaxRetries}

	if rawSteps, ok := section["steps"]; ok && rawSteps != nil {
		list, ok := rawSteps.([]any)
		if !ok {
			return ProjectConfig{}, invalidf("checks.steps must be a list, got %s", kindOf(rawSteps))
		}
		seen := make(map[string]bool, len(list))
		for i, item := range list {
			step, err := stepFrom(i, item)
			if err != nil {
				return ProjectConfig{}, err
			}
			if seen[step.Name] {
				return ProjectConfig{}, invalidf("checks.steps[%d]: duplicate step name %q", i, step.Name)
			}
			seen[step.Name] = true
			checks.Steps = append(checks.Steps, step)
		}
	}

	if rawRetries, ok := section["max_retries"]; ok {
		n, err := intFrom(rawRetries)
		if err != nil {
			return ProjectConfig{}, invalidf("checks.max_retries: %v", err)
		}
		if n < 0 {
			return ProjectConfig{}, invalidf("checks.max_retries must be >= 0, got %d", n)
		}
		checks.MaxRetries = n
	}

	return ProjectConfig{Checks: checks}, nil
}

func stepFrom(i int, item any) (CheckStep, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return CheckStep{}, invalidf("checks.steps[%d] must be a mapping, got %s", i, kindOf(item))
	}
	name, err := requiredString(m, "name")
	if err != nil {
		return CheckStep{}, invalidf("checks.steps[%d].%v", i, err)
	}
	command, err := requiredString(m, "command")
	if err != nil {
		return CheckStep{}, invalidf("checks.steps[%d].%v", i, err)
	}
	return CheckStep{Name: name, Command: command}, nil
}

func requiredString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", key, kindOf(v))
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

// intFrom accepts only integer values; strings, floats and booleans are rejected.
func intFrom(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("must be an integer, got %s", kindOf(v))
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "float"
	case []any:
		return "list"
	case map[string]any, map[any]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
