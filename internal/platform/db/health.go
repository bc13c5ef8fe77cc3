package db

// PoolStats represents database connection pool statistics. AcquiredConns is
// the figure the solvers' pool invariant is asserted against: it must be
// identical before and after any solve.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

// Healthy reports whether the pool holds at least one live connection.
func (s PoolStats) Healthy() bool { return s.TotalConns > 0 }
