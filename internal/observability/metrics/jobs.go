// Package metrics defines the job lifecycle metrics emitted by workers.
package metrics

import (
	"time"

	apperrors "github.com/target/docpipe/internal/errors"
	"github.com/target/docpipe/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics. The error code of
// a failed job becomes the error_class tag so dashboards can split fetch
// failures from extraction failures.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if code := apperrors.GetCode(in.Err); code != "" {
			tags["error_class"] = string(code)
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, tags)
	}
}
