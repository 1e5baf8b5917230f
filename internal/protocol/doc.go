// Package protocol owns the controller<->emulator wire contract.
//
// Ownership boundary:
// - control packet envelope (request vs response direction)
// - request/response variants and their result payloads
// - closed enumerations carried on the wire
//
// Records are JSON, externally tagged: unit variants encode as strings and data
// variants as single-key objects. Framing lives in the frame subpackage.
package protocol
