// Package emulator is a software stand-in for the secure-chip emulator. It
// speaks the readiness handshake and the control protocol so the supervisor
// and both emulator-facing transports can be exercised without firmware.
//
// Ownership boundary:
// - simulated power state and GPIO pin levels
// - a loopback console endpoint advertised through Get
// - the control socket server and readiness announcement
package emulator
