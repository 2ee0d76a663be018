package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/deltapivot/internal/batch"
)

// Scenario defines a conformance test scenario: a sequence of rounds fed
// to one table, each with the state it must leave behind.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tables is the CUE file or directory holding the table definitions.
	// Relative paths are resolved against the scenario file location.
	Tables string `yaml:"tables"`

	// Table selects the table under test.
	Table string `yaml:"table"`

	// PoolID is the fixed pool id. Defaults to "test-pool" for
	// deterministic traces.
	PoolID string `yaml:"pool_id,omitempty"`

	// Workers bounds the pool and classification workers. Zero means the
	// defaults.
	Workers int `yaml:"workers,omitempty"`

	// MaxRows caps the table; zero means unlimited.
	MaxRows int `yaml:"max_rows,omitempty"`

	Rounds []Round `yaml:"rounds"`
}

// Round is a set of batches submitted before one RunPending.
type Round struct {
	Batches []BatchStep `yaml:"batches"`
	Expect  *Expect     `yaml:"expect,omitempty"`
}

// BatchStep is one batch sent to a node input port.
type BatchStep struct {
	Port int       `yaml:"port"`
	Rows []RowStep `yaml:"rows"`
}

// RowStep is one row of a batch. Op is "insert" (the default), "upsert"
// or "delete".
type RowStep struct {
	Op     string         `yaml:"op,omitempty"`
	Values map[string]any `yaml:"values"`
}

// Expect lists what must hold after a round. Every field is optional.
type Expect struct {
	Size        *int               `yaml:"size,omitempty"`
	Summary     *SummaryExpect     `yaml:"summary,omitempty"`
	Rows        []map[string]any   `yaml:"rows,omitempty"`
	Absent      []any              `yaml:"absent,omitempty"`
	Changes     []ChangeExpect     `yaml:"changes,omitempty"`
	Transitions []TransitionExpect `yaml:"transitions,omitempty"`
	Groups      []GroupExpect      `yaml:"groups,omitempty"`
	Order       []any              `yaml:"order,omitempty"`
	Error       string             `yaml:"error,omitempty"`
}

// SummaryExpect is the expected row count per status. Unset counts must
// be zero.
type SummaryExpect struct {
	Inserted  int `yaml:"inserted"`
	Updated   int `yaml:"updated"`
	Unchanged int `yaml:"unchanged"`
	Deleted   int `yaml:"deleted"`
}

// ChangeExpect is the expected status of one touched key.
type ChangeExpect struct {
	Key    any    `yaml:"key"`
	Status string `yaml:"status"`
}

// TransitionExpect is the expected transition code of one cell.
type TransitionExpect struct {
	Key    any    `yaml:"key"`
	Column string `yaml:"column"`
	Code   string `yaml:"code"`
}

// GroupExpect is one expected aggregate group.
type GroupExpect struct {
	Key   any     `yaml:"key"`
	Sum   float64 `yaml:"sum"`
	Count int     `yaml:"count"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Tables != "" && !filepath.IsAbs(scenario.Tables) {
		scenario.Tables = filepath.Join(filepath.Dir(path), scenario.Tables)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Tables == "" {
		return fmt.Errorf("tables is required")
	}
	if _, err := os.Stat(s.Tables); os.IsNotExist(err) {
		return fmt.Errorf("tables not found: %s", s.Tables)
	}
	if s.Table == "" {
		return fmt.Errorf("table is required")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if s.MaxRows < 0 {
		return fmt.Errorf("max_rows must be non-negative")
	}
	if len(s.Rounds) == 0 {
		return fmt.Errorf("rounds list is required and must be non-empty")
	}

	for i, r := range s.Rounds {
		for j, b := range r.Batches {
			if b.Port < 0 {
				return fmt.Errorf("rounds[%d].batches[%d]: port must be non-negative", i, j)
			}
			for k, row := range b.Rows {
				if _, err := batch.ParseOp(row.Op); err != nil {
					return fmt.Errorf("rounds[%d].batches[%d].rows[%d]: %w", i, j, k, err)
				}
				if len(row.Values) == 0 {
					return fmt.Errorf("rounds[%d].batches[%d].rows[%d]: values is required", i, j, k)
				}
			}
		}
		if r.Expect != nil {
			for k, tr := range r.Expect.Transitions {
				if tr.Column == "" || tr.Code == "" {
					return fmt.Errorf("rounds[%d].expect.transitions[%d]: column and code are required", i, k)
				}
			}
			for k, c := range r.Expect.Changes {
				if c.Status == "" {
					return fmt.Errorf("rounds[%d].expect.changes[%d]: status is required", i, k)
				}
			}
		}
	}
	return nil
}
