// Package tracker periodically polls the status of one flight and notifies
// chat channels when it changes.
//
// A Registry holds at most one live session. Starting a new session stops the
// previous one first; from the moment Stop returns the old session can no
// longer deliver notifications (see Registry.deliver).
//
// A session moves through
//
//	idle -> starting -> active -> landed | stopped | aborted
//
// and reports every transition on the event bus under the "tracking." topic.
package tracker
