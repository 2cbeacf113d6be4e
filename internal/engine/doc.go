// Package engine implements connections and transactional Work on top of a
// session.Session.
//
// ARCHITECTURE:
//
// Connection:
// A Conn owns one physical session. Every wire call goes through a
// reference-counted dispatch lock, so overlapping callers queue instead of
// interleaving, and Close waits for in-flight calls before the session is
// released.
//
// Work:
// A Work is one transaction. At most one Work is open per Conn. Work moves
// through Open -> Committing -> Closed; any call that needs an open Work (or
// a Conn without one) fails with a StateError naming the expected state.
//
// Commit Protocol:
// 1. BeforeCommit handlers run concurrently; a failure rolls back instead
// 2. The Work is marked closed
// 3. COMMIT is sent and the engine's answer checked
// 4. Queued events are broadcast
// 5. Commit handlers run concurrently
// 6. The open-work pointer is cleared and mutexes released, always
//
// Named Mutexes:
// Acquired before the open-work check and released in reverse order when the
// Work ends. Latches is the in-process implementation.
//
// Retry:
// RunInWork replays the whole Work on serialization failures and deadlocks,
// sleeping with exponential backoff between attempts.
package engine
