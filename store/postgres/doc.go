// Package postgres provides a PostgreSQL checkpoint backend built on the
// Bun ORM. It implements both the table and blob contracts: small
// payloads live inline in waypoint_checkpoints, oversized ones in
// waypoint_blobs. The create-if-absent semantics ride on the composite
// primary key (thread_id, checkpoint_id, ts).
package postgres
