package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/listproof/internal/report"
)

// Scenario is a list of checks against one resource.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Resource names the catalog entry the checks run against.
	Resource string `yaml:"resource"`

	Checks []Check `yaml:"checks"`
}

// Check is one verification step.
type Check struct {
	Type string `yaml:"type"`

	// Param and Value select a filter; a nil Value is sampled from the
	// store.
	Param string `yaml:"param,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Fields are the ordering keys; all orderable attributes when empty.
	Fields []string `yaml:"fields,omitempty"`

	// Size is the page size of a page walk.
	Size int `yaml:"size,omitempty"`

	// ID picks the record of detail and mirrored_flip checks.
	ID string `yaml:"id,omitempty"`

	// Guarded makes a mirrored flip expect the in-use message.
	Guarded bool `yaml:"guarded,omitempty"`

	// Payload and Counter configure a create check.
	Payload map[string]any `yaml:"payload,omitempty"`
	Counter *Counter       `yaml:"counter,omitempty"`

	// Expect is the outcome the check must end with; pass when empty.
	Expect report.Outcome `yaml:"expect,omitempty"`
}

// Counter is the stored counter a create check expects to grow.
type Counter struct {
	Resource string         `yaml:"resource"`
	IDField  string         `yaml:"id_field"`
	Column   string         `yaml:"column"`
	Where    map[string]any `yaml:"where,omitempty"`
}

// Check type constants.
const (
	CheckDefault      = "default"
	CheckPagination   = "pagination"
	CheckPageWalk     = "page_walk"
	CheckFilter       = "filter"
	CheckOrder        = "order"
	CheckDetail       = "detail"
	CheckNotFound     = "not_found"
	CheckFlipStatus   = "flip_status"
	CheckGuard        = "guard"
	CheckCreate       = "create"
	CheckMirroredFlip = "mirrored_flip"
)

var checkKeys = []string{"type", "param", "value", "fields", "size", "id", "guarded", "payload", "counter", "expect"}

// UnmarshalYAML accepts a bare check type or a mapping, rejecting unknown
// keys.
func (c *Check) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = Check{Type: node.Value}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: check must be a string or a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i]
		if !slices.Contains(checkKeys, key.Value) {
			return fmt.Errorf("line %d: field %s not found in check", key.Line, key.Value)
		}
	}
	type plain Check
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Check(p)
	return nil
}

// Name labels the check in reports.
func (c Check) Name() string {
	switch c.Type {
	case CheckFilter:
		if c.Value == nil {
			return c.Type + " " + c.Param
		}
		return fmt.Sprintf("%s %s=%v", c.Type, c.Param, c.Value)
	case CheckOrder:
		if len(c.Fields) > 0 {
			return c.Type + " " + strings.Join(c.Fields, ",")
		}
	case CheckPageWalk:
		return fmt.Sprintf("%s size=%d", c.Type, c.Size)
	case CheckDetail, CheckMirroredFlip:
		if c.ID != "" {
			return c.Type + " id=" + c.ID
		}
	case CheckCreate:
		if c.Counter != nil {
			return fmt.Sprintf("%s %s.%s", c.Type, c.Counter.Resource, c.Counter.Column)
		}
	}
	return c.Type
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses one scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scenario")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml/.yml file in dir whose base name matches
// pattern (all files when pattern is empty), sorted by path.
func LoadScenarios(dir, pattern string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if pattern != "" {
			ok, err := filepath.Match(pattern, e.Name())
			if err != nil {
				return nil, fmt.Errorf("bad filter %q: %w", pattern, err)
			}
			if !ok {
				continue
			}
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("scenario %q defined in both %s and %s", s.Name, prev, p)
		}
		names[s.Name] = p
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Resource == "" {
		return fmt.Errorf("resource is required")
	}
	if len(s.Checks) == 0 {
		return fmt.Errorf("checks list is required and must be non-empty")
	}
	for i := range s.Checks {
		if err := validateCheck(i, &s.Checks[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateCheck validates a single check based on its type.
func validateCheck(index int, c *Check) error {
	if c.Type == "" {
		return fmt.Errorf("checks[%d]: type is required", index)
	}

	switch c.Type {
	case CheckDefault, CheckPagination, CheckNotFound, CheckFlipStatus, CheckGuard, CheckOrder, CheckDetail:
	case CheckPageWalk:
		if c.Size < 1 {
			return fmt.Errorf("checks[%d]: size must be positive for page_walk", index)
		}
	case CheckFilter:
		if c.Param == "" {
			return fmt.Errorf("checks[%d]: param is required for filter", index)
		}
	case CheckCreate:
		if c.Counter == nil {
			return fmt.Errorf("checks[%d]: counter is required for create", index)
		}
		if c.Counter.Resource == "" || c.Counter.IDField == "" || c.Counter.Column == "" {
			return fmt.Errorf("checks[%d]: counter needs resource, id_field and column", index)
		}
	case CheckMirroredFlip:
		if c.ID == "" {
			return fmt.Errorf("checks[%d]: id is required for mirrored_flip", index)
		}
	default:
		return fmt.Errorf("checks[%d]: unknown check type %q", index, c.Type)
	}

	switch c.Expect {
	case "", report.Pass, report.Fail, report.Skip:
	default:
		return fmt.Errorf("checks[%d]: expect must be pass, fail or skip, got %q", index, c.Expect)
	}
	return nil
}
