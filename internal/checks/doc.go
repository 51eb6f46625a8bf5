// Package checks turns a classified corpus into independent checks and runs
// them.
//
// It is split into:
//   - Enumeration (Enumerate): a pure function from corpus and Plan to an
//     ordered list of named checks
//   - Execution (Runner): compiles, runs and judges a single check
//   - Scheduling (Executor): drives every check through
//     PENDING -> RUNNING -> PASSED|FAILED, serially or on a bounded pool
//
// Checks share nothing but the temp-file registry and the result sink, so
// the final report does not depend on completion order.
package checks
