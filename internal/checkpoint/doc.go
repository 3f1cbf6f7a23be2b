// Package checkpoint persists workflow state snapshots for crash recovery
// and audit.
//
// A Store is one persistence backend. Three implementations ship with
// spectrad: PostgresStore (pgx connection pool), SQLiteStore (modernc
// driver, no cgo), and MemoryStore. The Manager fronts a prioritized list
// of stores: the first healthy backend is selected on first use and the
// selection is sticky for the process lifetime. Re-probing happens only on
// an explicit HealthCheck call or after the active backend fails a write,
// in which case the Manager falls back down the priority list and finally
// to memory, flagging the session degraded. Writes are last-writer-wins
// per (session id, checkpoint id); there is no conflict detection because
// each session has a single writer.
package checkpoint
