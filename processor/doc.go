// Package processor contains several implementations of the binflow
// Processor interface for common bin-handling scenarios, including:
//
// - Concat: merges a bin's payloads into a single byte slice
// - Channel: hands each ready bin to an output channel
// - Logging: wraps another processor and logs each bin's outcome
// - Error: fails every bin with a fixed error, for exercising failure paths
//
// Each implementation leaves transactional control to the engine: none of
// them commit or roll back a bin's session themselves.
package processor
