// Package types provides shared data structures for the assistant backend.
//
// Core Types:
//   - Session: a flow bound to a conversation thread, with its lifecycle
//     state, numbered step and typed Context
//   - Context: employee snapshot plus exactly one per-flow payload
//     (TimeOff, Overtime, LogHours, NewUser, Reimbursement)
//   - Response, Button: what a chat turn returns to the client
//   - Identity, Employee: the resolved caller
//
// Context.Merge is additive: a non-empty value replaces, an empty value
// never erases. Free-form Extra payloads are sanitized so that values
// which cannot be encoded are stored as "<unserializable: T>".
package types
