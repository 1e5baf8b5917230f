// Package control owns the request/response channel between the controlling
// process and an emulator instance.
//
// Ownership boundary:
// - unix socket dialing and per-exchange deadlines
// - one outstanding request at a time per channel
// - reconnect-on-next-call after connection loss
// - the emulator-side line server that answers one response per request
//
// Wire encoding belongs to internal/protocol; record framing to
// internal/protocol/frame.
package control
