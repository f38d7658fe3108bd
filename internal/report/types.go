// Package report holds the outcome of scenario runs and renders it as text
// or as canonical JSON.
//
// Canonical JSON is deterministic: object keys are sorted by UTF-16 code
// units, strings are NFC-normalized and nothing is HTML-escaped, so a run
// with fixed randomness and a fixed run id renders byte-identically.
package report

// Outcome is the result of one check.
type Outcome string

const (
	Pass  Outcome = "pass"
	Fail  Outcome = "fail"
	Skip  Outcome = "skip"
	Fatal Outcome = "fatal"
)

// Check is the outcome of one scenario check.
type Check struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Outcome    Outcome `json:"outcome"`
	Class      string  `json:"class,omitempty"`
	ID         string  `json:"id,omitempty"`
	Message    string  `json:"message,omitempty"`
	Expected   any     `json:"expected,omitempty"`
	Actual     any     `json:"actual,omitempty"`
	Screenshot string  `json:"screenshot,omitempty"`
}

// Scenario is the outcome of one scenario run.
type Scenario struct {
	Name     string   `json:"name"`
	Resource string   `json:"resource"`
	RunID    string   `json:"run_id"`
	Pass     bool     `json:"pass"`
	Aborted  bool     `json:"aborted,omitempty"`
	Checks   []Check  `json:"checks"`
	Notes    []string `json:"notes,omitempty"`
}

// NewScenario creates a passing, empty scenario outcome.
func NewScenario(name, resource, runID string) *Scenario {
	return &Scenario{Name: name, Resource: resource, RunID: runID, Pass: true, Checks: []Check{}}
}

// Add records a check. A failed or fatal check fails the scenario; a fatal
// one also marks it aborted.
func (s *Scenario) Add(c Check) {
	s.Checks = append(s.Checks, c)
	switch c.Outcome {
	case Fail:
		s.Pass = false
	case Fatal:
		s.Pass = false
		s.Aborted = true
	}
}

// Note adds a free-form note.
func (s *Scenario) Note(n string) {
	s.Notes = append(s.Notes, n)
}

// Count returns how many checks ended with o.
func (s *Scenario) Count(o Outcome) int {
	n := 0
	for _, c := range s.Checks {
		if c.Outcome == o {
			n++
		}
	}
	return n
}

// Run groups the scenarios of one invocation.
type Run struct {
	RunID     string      `json:"run_id"`
	Scenarios []*Scenario `json:"scenarios"`
}

// Pass reports whether every scenario passed.
func (r *Run) Pass() bool {
	for _, s := range r.Scenarios {
		if !s.Pass {
			return false
		}
	}
	return true
}
