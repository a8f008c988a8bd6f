package memory

import (
	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
)

// NewDevelopment wires a checkpoint.Saver over a fresh in-memory store
// serving as both table and blob backend. Same engine, same semantics,
// no external services; nothing survives a restart.
func NewDevelopment(opts ...checkpoint.Option) *checkpoint.Saver {
	s := New()
	return checkpoint.NewSaver(s, s, opts...)
}

// NewSaverForConfig constructs a Saver for the configured mode.
// Development mode runs fully in memory and ignores the given backends;
// any other mode requires a table backend (ErrNoTable otherwise). The
// configured TTL is applied before opts, so callers can still override
// it.
func NewSaverForConfig(cfg *waypoint.Config, table checkpoint.Table, blob checkpoint.Blob, opts ...checkpoint.Option) (*checkpoint.Saver, error) {
	opts = append([]checkpoint.Option{checkpoint.WithTTL(cfg.TTL())}, opts...)

	if cfg.Mode == waypoint.ModeDevelopment {
		return NewDevelopment(opts...), nil
	}
	if table == nil {
		return nil, waypoint.ErrNoTable
	}
	return checkpoint.NewSaver(table, blob, opts...), nil
}
