// Package scheduler runs the periodic gap refresh.
//
// Each tick asks the scan cache to refresh; market-hours gating, the rescan
// cooldown and the single-scan guard all live in the cache and scanner, so
// ticks outside the window or during a running scan are cheap no-ops.
// The tick is shorter than the cooldown so a rescan starts within one tick
// of the cooldown expiring.
//
// The main scheduler is implemented in jobs.go
package scheduler
