package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/testutil"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name must match its file")
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

const transfer = `
name: transfer
description: "balanced transfer"
ancestors:
  funding:
    version: 7
    apps:
      $t: t/{{fill 1}}/{{fill 2}}
    ins: []
    outs:
      - charms: {$t: 5}
spell:
  version: 7
  apps:
    $t: t/{{fill 1}}/{{fill 2}}
  ins:
    - utxo_id: {{txid "funding"}}:0
  outs:
    - charms: {$t: 5}
expect:
  accepted: true
`

func TestRun_ReportsMismatches(t *testing.T) {
	scenario, err := ParseScenario("transfer.yaml", t.TempDir(), []byte(transfer))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Accepted)
	assert.Zero(t, result.TotalCycles)

	scenario.Expect = Expect{Accepted: false, Error: charms.ErrCodeContractRejected}
	result, err = Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "CONTRACT_REJECTED")

	no := false
	scenario.Expect = Expect{
		Accepted: true,
		FastPath: &no,
		Apps:     []AppExpect{{Index: 0, FastPath: false}},
	}
	result, err = Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestRun_WrongErrorCode(t *testing.T) {
	src := strings.Replace(transfer, "$t: 5}\nexpect:", "$t: 6}\nexpect:", 1)
	src = strings.Replace(src, "accepted: true", "accepted: false\n  error: CONTRACT_REJECTED", 1)
	scenario, err := ParseScenario("transfer.yaml", t.TempDir(), []byte(src))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, charms.ErrCodeMissingBinary, result.ErrorCode)
	require.Error(t, result.Err)
}

func TestRun_MissingContract(t *testing.T) {
	src := transfer + "app_input:\n  binaries: [no-such-contract]\n"
	scenario, err := ParseScenario("transfer.yaml", t.TempDir(), []byte(src))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-contract")
}

func TestRun_BadAncestor(t *testing.T) {
	src := strings.Replace(transfer, "    ins: []\n", "", 1)
	scenario, err := ParseScenario("transfer.yaml", t.TempDir(), []byte(src))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ancestor funding")
}

func TestParseScenario_TemplateFuncs(t *testing.T) {
	src := `
name: funcs
description: "template functions"
spell:
  version: 7
  apps:
    $t: t/{{fill 7}}/{{vk "accept"}}
  ins:
    - utxo_id: {{txid "a"}}:3
  outs:
    - beam_to: {{beam "b" 1}}
expect:
  accepted: false
  error: MISSING_BINARY
`
	scenario, err := ParseScenario("funcs.yaml", t.TempDir(), []byte(src))
	require.NoError(t, err)

	n, err := normalizeNode("spell", &scenario.Spell)
	require.NoError(t, err)
	apps := n.spell.Apps()
	require.Len(t, apps, 1)
	assert.Equal(t, testutil.Fill(7), apps[0].Identity)
	assert.Equal(t, charms.VK(testutil.MustWasm(t, "accept")), apps[0].VK)
	assert.Equal(t, []charms.UtxoID{testutil.Utxo("a", 3)}, n.spell.Tx.Ins)
	assert.Equal(t, charms.BeamDestination(testutil.Utxo("b", 1)), n.spell.Tx.BeamedOuts[0])
}

func TestParseScenario_Errors(t *testing.T) {
	valid := `
name: x
description: "x"
spell: {version: 7, apps: {}, ins: [], outs: []}
expect: {accepted: true}
`
	_, err := ParseScenario("valid.yaml", ".", []byte(valid))
	require.NoError(t, err)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no name", strings.Replace(valid, "name: x\n", "", 1), "name is required"},
		{"no description", strings.Replace(valid, `description: "x"`, "", 1), "description is required"},
		{"no spell", strings.Replace(valid, "spell: {version: 7, apps: {}, ins: [], outs: []}\n", "", 1), "spell is required"},
		{"unknown verifier", valid + "verifier: fast\n", "unknown verifier"},
		{"negative parallelism", valid + "parallelism: -1\n", "parallelism"},
		{"unknown field", valid + "flow: []\n", "failed to parse YAML"},
		{"accepted with error", strings.Replace(valid, "{accepted: true}", "{accepted: true, error: HOST_FAULT}", 1), "no error"},
		{"rejection without code", strings.Replace(valid, "{accepted: true}", "{accepted: false}", 1), "error code"},
		{"bad template", valid + "# {{nope}}\n", "template"},
		{"missing contract", valid + "# {{vk \"nope\"}}\n", "template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario("bad.yaml", ".", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_DefaultVerifier(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/token_transfer.yaml")
	require.NoError(t, err)
	assert.Equal(t, VerifierMock, scenario.Verifier)
	assert.Nil(t, scenario.AppInput)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestNewSnapshot(t *testing.T) {
	scenario := &Scenario{Name: "s", Verifier: VerifierProduction}
	app, _ := testutil.ContractApp(t, charms.TokenTag, 9, "accept")

	result := NewResult()
	result.Accepted = true
	result.TotalCycles = 42
	result.Apps = append(result.Apps, AppOutcome{Index: 0, App: app, Cycles: 42})

	data, err := MarshalSnapshot(NewSnapshot(scenario, result))
	require.NoError(t, err)
	assert.NotContains(t, string(data), app.VK.String())
	assert.NotContains(t, string(data), "42")
	assert.Contains(t, string(data), `"metered": true`)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
}
