// Package audit defines the security event model and the sink implementations
// that receive it. The async dispatcher that feeds sinks lives in the root
// package; this package stays allocation-light and free of engine imports.
//
// # What this package must NOT do
//
//   - Block an emitting request path (sinks own their own buffering).
//   - Carry passwords, token strings, or hashes in event payloads.
package audit
