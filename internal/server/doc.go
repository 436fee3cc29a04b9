// Package server implements the WebSocket rooms of the ProjectPulse broadcast
// service.
//
// Each room path authenticates the caller, applies the room's own admission
// rule and then hands the connection to a Client whose read and write pumps
// run under the Hub. Fan-out to groups of connections goes through the shared
// broadcast.Registry, which other subsystems also publish into.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, rooms, routing, and HTTP handlers.
package server
