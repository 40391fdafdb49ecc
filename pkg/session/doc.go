// Package session stores conversation sessions: the ordered history of user
// and agent turns for one session id.
//
// Invariants:
//   - Session ids are validated and path-safe.
//   - History is append-only; a turn is appended as a user entry and an agent
//     entry in one write.
//   - Appends to the same session are serialized; different sessions never
//     share a lock.
//
// With a directory configured, each session is persisted as a JSONL file and
// restored on start. Corrupt lines are skipped on load.
//
// Usage:
//
//	store, _ := session.NewStore(session.Config{Dir: "/var/lib/zombiecoder/sessions", TTL: 24 * time.Hour})
//	_, _ = store.Create(ctx, "s1", "coding_agent")
//	_ = store.AppendTurn(ctx, "s1", session.UserEntry("hello"), session.AgentEntry("hi"))
package session
