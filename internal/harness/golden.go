package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the toolchain-independent part of a result: no cycle counts
// and no verification keys.
type Snapshot struct {
	Scenario  string        `json:"scenario"`
	Verifier  string        `json:"verifier"`
	Accepted  bool          `json:"accepted"`
	ErrorCode string        `json:"error_code,omitempty"`
	FastPath  bool          `json:"fast_path"`
	Apps      []AppSnapshot `json:"apps"`
}

type AppSnapshot struct {
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Identity string `json:"identity"`
	FastPath bool   `json:"fast_path"`
	Metered  bool   `json:"metered"`
}

// NewSnapshot builds the snapshot of a scenario result.
func NewSnapshot(scenario *Scenario, result *Result) Snapshot {
	s := Snapshot{
		Scenario:  scenario.Name,
		Verifier:  scenario.Verifier,
		Accepted:  result.Accepted,
		ErrorCode: string(result.ErrorCode),
		FastPath:  result.FastPath,
		Apps:      []AppSnapshot{},
	}
	for _, a := range result.Apps {
		s.Apps = append(s.Apps, AppSnapshot{
			Index:    a.Index,
			Tag:      a.App.Tag,
			Identity: a.App.Identity.String(),
			FastPath: a.FastPath,
			Metered:  a.Cycles > 0,
		})
	}
	return s
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing
// newline.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs a scenario, fails t on any expectation mismatch and
// compares the snapshot with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario, result)
}

// AssertGolden compares a result's snapshot with its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(NewSnapshot(scenario, result))
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
