package harness

// CellTrace is one cell of a touched row.
type CellTrace struct {
	Column   string `json:"column"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Code     string `json:"code"`
}

// RowTrace is one row of a round's delta, in delta order.
type RowTrace struct {
	Key    string      `json:"key"`
	Status string      `json:"status"`
	Cells  []CellTrace `json:"cells"`
}

// RoundTrace is the observable outcome of one scenario round.
type RoundTrace struct {
	Epoch     uint64     `json:"epoch"`
	Size      int        `json:"size"`
	Inserted  int        `json:"inserted"`
	Updated   int        `json:"updated"`
	Unchanged int        `json:"unchanged"`
	Deleted   int        `json:"deleted"`
	Rows      []RowTrace `json:"rows"`
	Error     string     `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expectation matched.
	Pass bool `json:"pass"`

	// Trace holds one entry per round.
	Trace []RoundTrace `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Columns names the table columns in schema order.
	Columns []string `json:"columns"`

	// Final is the live table after the last round, rows in key order and
	// cells in schema order.
	Final [][]string `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []RoundTrace{},
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
