// Package safego launches background goroutines that survive their own panics.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/FilipRus/boxItFindIt/internal/telemetry"
)

// Go runs fn on a new goroutine. A panic inside fn is recovered, logged with its
// stack under task, and counted in boxit_background_panics_total. Use it for every
// fire-and-forget goroutine: audit writes, email delivery, the cleanup job.
func Go(task string, fn func()) {
	go run(task, fn)
}

func run(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
			slog.Error("recovered panic in background goroutine",
				"task", task,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
