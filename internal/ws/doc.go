// Package ws streams session events to dashboard viewers and carries their
// commands back.
//
// The package implements:
//   - Hub: the set of authenticated viewers; fans add, remove and update
//     frames out to all of them
//   - Client: one viewer connection with its own bounded send queue
//   - Handler: upgrade, shared-secret handshake, initial view, and the
//     approve/send/ping commands
//
// Key behaviour:
//   - The secret comes from the upgrade headers or from a first auth frame,
//     never from the URL
//   - A viewer's initial view is queued under the reconciler lock, so it
//     never interleaves with a tick
//   - Command results go to the viewer that sent the command, not to the hub
//   - A slow or closed viewer is dropped without delaying the others
package ws
