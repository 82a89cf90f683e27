package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"gopkg.in/yaml.v3"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/testutil"
)

// Verifier variants.
const (
	VerifierMock       = "mock"
	VerifierProduction = "production"
)

// Scenario is one verification case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Verifier is "mock" (default) or "production".
	Verifier string `yaml:"verifier,omitempty"`

	// Parallelism bounds concurrent contract runs. Zero means sequential.
	Parallelism int `yaml:"parallelism,omitempty"`

	// AppInput is the contract input. Nil means none was supplied.
	AppInput *AppInputSpec `yaml:"app_input,omitempty"`

	// Ancestors are the spells of the transactions the spell spends or
	// references, in source form, keyed by transaction name.
	Ancestors map[string]yaml.Node `yaml:"ancestors,omitempty"`

	// Spell is the spell under test in source form.
	Spell yaml.Node `yaml:"spell"`

	Expect Expect `yaml:"expect"`

	// dir is where contract files are resolved from.
	dir string
}

// AppInputSpec lists the contracts whose binaries are supplied.
type AppInputSpec struct {
	Binaries []string `yaml:"binaries"`
}

// Expect is the expected verification outcome.
type Expect struct {
	Accepted bool `yaml:"accepted"`

	// Error is the expected error code of a rejection.
	Error charms.ErrorCode `yaml:"error,omitempty"`

	// FastPath, when set, is the expected Result.FastPath.
	FastPath *bool `yaml:"fast_path,omitempty"`

	// Apps, when set, are the expected per-app results in app order.
	Apps []AppExpect `yaml:"apps,omitempty"`
}

type AppExpect struct {
	Index    int   `yaml:"index"`
	FastPath bool  `yaml:"fast_path"`
	Metered  *bool `yaml:"metered,omitempty"`
}

// LoadScenario reads, expands and parses a scenario file. Unknown fields
// are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(filepath.Base(path), filepath.Dir(path), data)
}

// ParseScenario expands and parses scenario source. dir resolves contract
// files.
func ParseScenario(name, dir string, data []byte) (*Scenario, error) {
	expanded, err := expand(name, dir, data)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.dir = dir

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func expand(name, dir string, data []byte) ([]byte, error) {
	funcs := template.FuncMap{
		"vk": func(contract string) (string, error) {
			bin, err := loadContract(dir, contract)
			if err != nil {
				return "", err
			}
			return charms.VK(bin).String(), nil
		},
		"txid": func(name string) string {
			return testutil.NamedTxID(name).String()
		},
		"beam": func(name string, vout uint32) string {
			return charms.BeamDestination(testutil.Utxo(name, vout)).String()
		},
		"fill": func(b byte) string {
			return testutil.Fill(b).String()
		},
	}
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("failed to expand scenario template: %w", err)
	}
	return buf.Bytes(), nil
}

// loadContract returns the WASM binary of a built-in contract or of a
// .wasm or .wat file relative to dir.
func loadContract(dir, contract string) ([]byte, error) {
	path := contract
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	switch strings.ToLower(filepath.Ext(contract)) {
	case ".wasm":
		return os.ReadFile(path)
	case ".wat":
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return wasmtime.Wat2Wasm(string(src))
	default:
		return testutil.Wasm(contract)
	}
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Verifier {
	case "":
		s.Verifier = VerifierMock
	case VerifierMock, VerifierProduction:
	default:
		return fmt.Errorf("unknown verifier %q", s.Verifier)
	}
	if s.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if s.Spell.Kind == 0 {
		return fmt.Errorf("spell is required")
	}
	if s.Expect.Accepted && s.Expect.Error != "" {
		return fmt.Errorf("an accepted spell has no error")
	}
	if !s.Expect.Accepted && s.Expect.Error == "" {
		return fmt.Errorf("a rejection must name its error code")
	}
	return nil
}
