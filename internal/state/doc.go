// Package state provides thread-safe state management for casadeck.
//
// # Overview
//
// Store holds the latest server data shared between the background poller
// and the UI. The poller writes, the UI reads snapshots on its own schedule.
//
//	Producer (Poller):               Consumer (UI):
//	┌──────────────────┐            ┌──────────────────┐
//	│ SystemInfo()     │            │                  │
//	│ ListApps()       │            │                  │
//	│      ↓           │            │                  │
//	│ store.Update()   │───────────→│ store.Snapshot() │
//	│      ↓           │  (mutex)   │      ↓           │
//	│  repeat...       │            │  render UI       │
//	└──────────────────┘            └──────────────────┘
//
// # Update Semantics
//
//	// Success: replace whichever halves were fetched
//	store.Update(&info, apps, nil)
//
//	// Error: keep old data, record the error
//	store.Update(nil, nil, err)
//	→ snapshot.LastError = err
//	→ snapshot.ConsecutiveFailures++
//
// The UI therefore always has the most recent successful data while still
// seeing poll failures. Two consecutive failures mark the snapshot offline.
// Errors keep their chain, so casaos.IsKind works on LastError and the UI
// can tell an expired token from an unreachable host.
//
// SetAppStatus patches a single app after a start, stop or restart so the
// list reflects the action before the next poll. Reset clears everything
// after logout or when the server changes.
//
// # Copying
//
// Update and Snapshot both clone the app slice, and Snapshot wraps the
// stored error, so callers never share mutable state with the store.
//
// The zero Store is ready to use.
package state
