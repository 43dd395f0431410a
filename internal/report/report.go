// Package report is the error-reporting sink for failures that are handled
// locally but should still be visible to operators.
package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingnet-staker/internal/log"
)

// Reporter receives errors the caller has already recovered from.
type Reporter interface {
	Report(err error, context string)
}

// Nop discards every report.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(error, string) {}

// LogReporter logs each report and counts it per context.
type LogReporter struct {
	logger zerolog.Logger
	count  *prometheus.CounterVec
}

// NewLogReporter creates a reporter and registers its counter with reg.
// A nil reg skips registration.
func NewLogReporter(reg prometheus.Registerer) *LogReporter {
	r := &LogReporter{
		logger: klog.WithComponent("report"),
		count: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klingnet_reported_errors_total",
			Help: "Errors handed to the reporting sink, by context.",
		}, []string{"context"}),
	}
	if reg != nil {
		reg.MustRegister(r.count)
	}
	return r
}

// Report implements Reporter. A nil error is ignored.
func (r *LogReporter) Report(err error, context string) {
	if err == nil {
		return
	}
	r.count.WithLabelValues(context).Inc()
	r.logger.Error().Err(err).Str("context", context).Msg("Reported error")
}
