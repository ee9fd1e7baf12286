// Package core defines the domain model shared by the detection engine.
//
// # Overview
//
// The core package provides:
//   - Rule definitions, their validation and the fixed severity scale
//   - Alerts and the filters used to list them
//   - The execution summary produced by each batch of rule executions
//   - The error taxonomy: validation errors, transform warnings, per-rule
//     execution errors and alert store errors
//   - Dedup key derivation
//   - A bounded worker pool used to fan rule executions out
//
// Packages that consume these types define their own small interfaces
// (the backend connector lives in backend, alert storage in storage) so that
// core stays free of I/O.
package core
