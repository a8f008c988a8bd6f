// Package waypoint provides a resumable, auditable checkpoint persistence
// layer for long-running, multi-phase, multi-agent decision workflows.
//
// Waypoint is designed as a library, not a service. Import it, configure a
// table and blob backend, and call Save/Load/List after each workflow step.
//
// # Quick Start
//
//	saver := checkpoint.NewSaver(table, blob,
//	    checkpoint.WithLogger(logger),
//	)
//	res, err := saver.Save(ctx, threadID, "phase1_complete", state, meta)
//
// # Architecture
//
// The checkpoint package owns the core snapshot engine: size-aware routing
// between a transactional table and a blob store, bounded retry with
// exponential backoff, optimistic conflict handling, and an in-process
// fallback that keeps workflows running when both backends are down.
// Backends live under store/ (memory, postgres, redis, mongo, sqlite), each
// implementing the checkpoint.Table and checkpoint.Blob contracts.
//
// On top of the saver sit four stateless layers: thread (run lifecycle
// registry), recovery (failure recovery helpers), audit (history export and
// time travel), and approval (a human-in-the-loop gate built entirely from
// reserved checkpoint slots).
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package waypoint
