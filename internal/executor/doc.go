// Package executor runs serverless checks. A Registry maps stable executor
// keys to implementations at process start; the Runner consumes the
// serverless work queue, invokes the named executor under a hard deadline
// with panic containment and scoped credentials, and emits the normalized
// result onto the result work queue. Executor failures become CRITICAL
// results, deadlines become UNKNOWN results — neither ever surfaces as a
// pipeline failure.
package executor
