package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes connection pool statistics as gauges. Both
// panel processes share the one Postgres store, so pool saturation here is
// the first thing to look at when job triggers start timing out.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	gauges := []struct {
		name string
		help string
		stat func() float64
	}{
		{"panel_db_pool_acquired_conns", "Connections currently acquired from the pool",
			func() float64 { return float64(pool.Stat().AcquiredConns()) }},
		{"panel_db_pool_idle_conns", "Idle connections in the pool",
			func() float64 { return float64(pool.Stat().IdleConns()) }},
		{"panel_db_pool_total_conns", "Total connections held by the pool",
			func() float64 { return float64(pool.Stat().TotalConns()) }},
		{"panel_db_pool_max_conns", "Configured pool connection ceiling",
			func() float64 { return float64(pool.Stat().MaxConns()) }},
		{"panel_db_pool_empty_acquires", "Acquires that had to wait for a free connection",
			func() float64 { return float64(pool.Stat().EmptyAcquireCount()) }},
	}

	for _, g := range gauges {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help}, g.stat))
	}
}
