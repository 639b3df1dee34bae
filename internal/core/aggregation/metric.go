package aggregation

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ggaccel/edgestream/internal/core/obd"
)

var metricNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// MetricDefinition selects one value out of each consumed record.
// Exactly one of Pid and Field is set: Pid matches decoded readings,
// Field reads a numeric key of a JSON record.
type MetricDefinition struct {
	Name        string
	Pid         obd.Pid
	Field       string
	Operators   []string
	Fingerprint string // SHA-256 of the raw YAML file; empty for in-code definitions
}

// rawMetric is the on-disk YAML shape.
type rawMetric struct {
	Name      string   `yaml:"name"`
	Pid       string   `yaml:"pid"`
	Field     string   `yaml:"field"`
	Operators []string `yaml:"operators"`
}

// Validate checks a definition and fills default operators.
func (m *MetricDefinition) Validate() error {
	if !metricNamePattern.MatchString(m.Name) {
		return fmt.Errorf("metric %q: name must be lower snake case", m.Name)
	}
	switch {
	case m.Pid == "" && m.Field == "":
		return fmt.Errorf("metric %q: one of pid or field is required", m.Name)
	case m.Pid != "" && m.Field != "":
		return fmt.Errorf("metric %q: pid and field are mutually exclusive", m.Name)
	case m.Pid != "" && !m.Pid.Known():
		return fmt.Errorf("metric %q: unsupported pid %q", m.Name, m.Pid)
	}
	if len(m.Operators) == 0 {
		m.Operators = append([]string(nil), DefaultOperators...)
	}
	seen := make(map[string]bool, len(m.Operators))
	for _, op := range m.Operators {
		if !ValidOperator(op) {
			return fmt.Errorf("metric %q: unsupported operator %q", m.Name, op)
		}
		if seen[op] {
			return fmt.Errorf("metric %q: operator %q listed twice", m.Name, op)
		}
		seen[op] = true
	}
	return nil
}

// MetricRepository serves the metric definitions a consumer tracks.
type MetricRepository interface {
	// Get returns the metric with the given name, or an error if not found.
	Get(name string) (*MetricDefinition, error)

	// List returns all metrics ordered by name.
	List() []MetricDefinition
}

// FileSystemMetricRepository loads metric definitions from *.yaml files in a
// directory, one metric per file. Definitions are loaded once at startup.
type FileSystemMetricRepository struct {
	dir     string
	metrics map[string]MetricDefinition
}

// NewFileSystemMetricRepository eagerly loads every definition in dir.
// A missing directory yields an empty repository; callers decide whether
// zero metrics is acceptable.
func NewFileSystemMetricRepository(dir string) (*FileSystemMetricRepository, error) {
	repo := &FileSystemMetricRepository{
		dir:     dir,
		metrics: make(map[string]MetricDefinition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemMetricRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metrics dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("metrics path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading metrics dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading metric file %s: %w", path, err)
		}

		var raw rawMetric
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing metric file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // comment-only file
		}

		def := MetricDefinition{
			Name:        raw.Name,
			Pid:         obd.Pid(raw.Pid),
			Field:       raw.Field,
			Operators:   raw.Operators,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, exists := r.metrics[def.Name]; exists {
			return fmt.Errorf("metric %q: duplicate metric name (check multiple YAML files)", def.Name)
		}
		r.metrics[def.Name] = def
	}
	return nil
}

// Get returns the metric with the given name.
func (r *FileSystemMetricRepository) Get(name string) (*MetricDefinition, error) {
	m, ok := r.metrics[name]
	if !ok {
		return nil, fmt.Errorf("metric %q not found", name)
	}
	return &m, nil
}

// List returns all metrics ordered by name.
func (r *FileSystemMetricRepository) List() []MetricDefinition {
	out := make([]MetricDefinition, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
