package runner

import (
	"log/slog"
	"time"

	"dwh/internal/metrics"
	"dwh/internal/queries"
)

// observer logs every statement and records it as a metrics step.
type observer struct {
	logger *slog.Logger
	job    string
}

func (o *observer) StatementStarted(st queries.Statement) {
	o.logger.Debug("statement started", "phase", st.Phase, "statement", st.Name, "table", st.Table)
}

func (o *observer) StatementFinished(st queries.Statement, elapsed time.Duration, err error) {
	metrics.RecordStep(o.job, st.Name, err, elapsed)
	if err != nil {
		o.logger.Error("statement failed",
			"phase", st.Phase, "statement", st.Name, "table", st.Table, "duration", elapsed, "err", err)
		return
	}
	o.logger.Info("statement finished",
		"phase", st.Phase, "statement", st.Name, "table", st.Table, "duration", elapsed)
}
