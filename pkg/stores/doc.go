// Package stores provides the persistence layer for discovery records,
// connections and graph snapshots.
//
// Two implementations exist: SQLiteStore for durable single-node storage and
// MemoryStore for tests and ephemeral runs. Both enforce the same contract:
// a discovery that has reached a terminal stage is immutable, and bearer
// tokens never reach storage in any form. The connections table deliberately
// has no token column.
package stores
