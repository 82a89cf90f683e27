package harness

import (
	"github.com/bitsnark/charms/internal/charms"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when the outcome matches the scenario's expectation.
	Pass bool `json:"pass"`

	// Errors lists every mismatch. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Accepted  bool             `json:"accepted"`
	ErrorCode charms.ErrorCode `json:"error_code,omitempty"`

	// Err is the verification error of a rejected spell.
	Err error `json:"-"`

	FastPath    bool         `json:"fast_path"`
	TotalCycles uint64       `json:"total_cycles"`
	Apps        []AppOutcome `json:"apps"`
}

// AppOutcome is one app's result in an accepted spell.
type AppOutcome struct {
	Index    int        `json:"index"`
	App      charms.App `json:"app"`
	FastPath bool       `json:"fast_path"`
	Cycles   uint64     `json:"cycles"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Apps:   []AppOutcome{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
