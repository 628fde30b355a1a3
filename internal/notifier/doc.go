// Package notifier delivers flight notifications to chat channels.
//
// Messages are queued and sent by a single worker so channels receive them in
// the order they were produced. Each message fans out to every configured
// Sink (Telegram, Discord webhook) with rate limiting and retry with
// exponential backoff. Failures are logged, journaled and published on the
// event bus; they never reach the caller of Notify.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recently delivered messages along with the per-sink outcome.
package notifier
