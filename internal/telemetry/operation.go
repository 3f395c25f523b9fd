package telemetry

import (
	"context"
	"time"
)

// Operation оборачивает операцию оркестратора: замеряет длительность,
// инкрементирует счётчик по исходу и пишет debug-строку. Явный
// интерцептор вместо неявной декораторной обвязки: имя операции и исход
// видны в точке вызова.
func Operation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	operationsTotal.WithLabelValues(name, outcome).Inc()

	FromContext(ctx).Debug("operation finished",
		"operation", name,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds())
	return err
}
