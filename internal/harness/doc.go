// Package harness runs spell verification scenarios.
//
// A scenario names a set of ancestor spells, the spell under test, the
// contract input supplied to the verifier, and the expected outcome. The
// harness normalizes every spell, runs the selected verifier and compares
// the outcome with the expectation.
//
// # Scenario Format
//
// Scenarios are YAML files. The file is first expanded as a text/template,
// so app verification keys and transaction IDs can be written by name:
//
//	name: token_mint
//	description: "A mint is accepted when the token contract approves it"
//	verifier: production
//	app_input:
//	  binaries: [accept]
//	ancestors:
//	  funding:
//	    version: 7
//	    apps: {}
//	    ins: []
//	    outs: [{}]
//	spell:
//	  version: 7
//	  apps:
//	    $t: t/{{fill 1}}/{{vk "accept"}}
//	  ins:
//	    - utxo_id: {{txid "funding"}}:0
//	  outs:
//	    - charms: {$t: 10}
//	expect:
//	  accepted: true
//	  apps:
//	    - {index: 0, fast_path: false, metered: true}
//
// Template functions:
//
//   - vk NAME: hex verification key of a contract
//   - txid NAME: display form of the transaction ID named NAME
//   - beam NAME VOUT: hex beam destination of output NAME:VOUT
//   - fill N: 32 bytes of N, in hex
//
// Contracts are the built-in test contracts of package testutil, or .wasm
// and .wat files relative to the scenario file. Ancestors are keyed by name;
// ancestor NAME has transaction ID txid NAME.
//
// Without app_input the verifier gets no contract input, and every app
// must be a simple transfer.
//
// # Deterministic Output
//
// Snapshots leave out cycle counts and verification keys, which depend on
// the WASM toolchain, so golden files only change when behavior does.
package harness
