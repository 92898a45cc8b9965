// Package source contains several implementations of the binflow
// SessionFactory interface for common item source scenarios, including:
//
// - Memory: an in-memory queue with fully transactional sessions
// - Kafka: consumer-group reads with per-relationship output topics
// - Redis: list-backed pulls with per-relationship destination lists
// - Postgres: an outbox table with claim-based checkout
//
// Memory provides exact transactional semantics and is suitable for tests
// and embedding. The networked sources provide at-least-once delivery: a
// rolled-back session leaves its items unacknowledged so they are delivered
// again, and a crash between produce and acknowledge can duplicate items.
package source
