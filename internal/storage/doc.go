// Package storage provides the optional journal used by flightwatch.
//
// It records:
//   - Audit entries (control actions and tracking lifecycle transitions)
//   - Delivery entries (one per notification attempt outcome per sink)
//
// Tracking sessions themselves are never persisted; a restart always begins
// with no active session.
package storage
