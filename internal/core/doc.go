// Package core provides the domain models and the process runner shared by
// every stage of the unroll differential harness.
//
// # Design Principles
//
//  1. A child process is always bounded: every Run has a wall-clock timeout
//     and is terminated (SIGTERM, then SIGKILL) and reaped when it expires.
//  2. Process output is drained exactly once into immutable buffers; callers
//     never see a live stream.
//  3. Infrastructure failures and behavioral mismatches are distinct error
//     types and are never conflated.
//
// # Core Types
//
// TestCase: a corpus source file and its Class (Valid or Invalid).
// Command: a fully specified child-process invocation.
// ProcessResult: the drained, immutable outcome of a Command.
// Verdict: the outcome of comparing a baseline and a transformed binary.
// TempRegistry: owner of every temporary artifact created by the harness.
package core
