// Package coordinator runs synchronization passes in the background.
//
// It sits on top of the sync.Runner and handles:
//
//   - Periodic scheduling using time.Ticker with ±10% jitter
//   - An initial run on startup
//   - Graceful shutdown
//
// Runs never overlap within one process because the loop executes them
// inline. Across processes the optional run lock configured on the Runner
// applies.
//
// # Usage Example
//
//	coord := coordinator.New(runner, cfg.GetSyncInterval())
//	go func() {
//	    if err := coord.Start(ctx); err != nil {
//	        slog.Error("coordinator failed", "error", err)
//	    }
//	}()
//	defer coord.Stop()
package coordinator
