// Package storage persists the two pieces of state that must survive process
// restarts: the subscribed recipient list and the last accepted snapshot.
//
// Reminder timers are deliberately NOT persisted; in-flight reminders are lost
// on restart.
//
// Drivers:
//   - "file"   dependency-free JSON files (default)
//   - "sqlite" single SQLite database file (build tag "sqlite")
package storage
