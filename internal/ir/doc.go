// Package ir provides the shared data model for the botloom runtime.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the wire model the
// foundational layer with no circular dependencies.
//
// Contents:
//   - Value: the sealed set of typed tag values produced by the tag compiler
//   - Action: the closed union of records carried in action batches
//   - Delta / StateResult: the inbound delta and outbound reconciliation shapes
//   - Position / TriggerState: source coordinates used by breakpoints
//   - MarshalCanonical: RFC 8785 canonical JSON for hashing and golden traces
package ir
