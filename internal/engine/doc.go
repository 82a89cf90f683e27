// Package engine decides whether every app's constraints hold for a
// transaction and what the verification cost.
//
// ARCHITECTURE:
//
// A verification pass has two stages:
//  1. Structural check (package check): cheap, no contract code runs.
//  2. Contract satisfaction: per app, in ascending App order, either the
//     simple-transfer fast path (zero cost) or a sandboxed contract run.
//
// The top-level gate accepts a transaction without touching the sandbox
// only when every app is a simple transfer AND the caller supplied no
// contract input at all. Otherwise contract input is required and every
// app goes through stage 2.
//
// Any single app failure fails the whole transaction. There is no partial
// acceptance and no retry: runs are deterministic.
//
// DETERMINISM:
//
// Contract runs may execute in parallel (WithParallelism), but results are
// always aggregated by app index. The reported error is the one from the
// lowest-indexed failing app and the total cost is summed in app order, so
// output does not depend on scheduling.
//
// VARIANTS:
//
// MockVerifier and ProductionVerifier implement Verifier. The caller picks
// one explicitly; production requires a metered runner and refuses mock
// spells anywhere in the ancestry.
package engine
