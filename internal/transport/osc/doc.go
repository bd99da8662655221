// Package osc serves the router over Open Sound Control.
//
// Clients send OSC 1.0 messages and bundles to one UDP socket. A client is
// identified by its host and the port it listens on, which it names in its
// control requests; replies and deliveries go back to that port. Clients that
// configure a blob pairing get binary payloads on a separate TCP or UDP
// endpoint.
package osc
