package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all daemon metrics instruments: task dispatch, pipeline
// runs, and WebSocket session activity.
type Metrics struct {
	TaskDuration      metric.Float64Histogram
	TaskErrors        metric.Int64Counter
	PipelineDuration  metric.Float64Histogram
	NodeDuration      metric.Float64Histogram
	PipelineFailures  metric.Int64Counter
	SessionsActive    metric.Int64UpDownCounter
	BroadcastsSent    metric.Int64Counter
	BroadcastEvicted  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("opencli.task.duration",
		metric.WithDescription("Task dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskErrors, err = meter.Int64Counter("opencli.task.errors",
		metric.WithDescription("Task dispatch failures, including unclaimed task_types"),
	)
	if err != nil {
		return nil, err
	}

	m.PipelineDuration, err = meter.Float64Histogram("opencli.pipeline.duration",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.NodeDuration, err = meter.Float64Histogram("opencli.pipeline.node.duration",
		metric.WithDescription("Per-node execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PipelineFailures, err = meter.Int64Counter("opencli.pipeline.failures",
		metric.WithDescription("Pipeline runs that completed with success=false"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionsActive, err = meter.Int64UpDownCounter("opencli.sessions.active",
		metric.WithDescription("Currently authenticated WebSocket sessions"),
	)
	if err != nil {
		return nil, err
	}

	m.BroadcastsSent, err = meter.Int64Counter("opencli.broadcast.sent",
		metric.WithDescription("Broadcast messages delivered to a session"),
	)
	if err != nil {
		return nil, err
	}

	m.BroadcastEvicted, err = meter.Int64Counter("opencli.broadcast.evicted",
		metric.WithDescription("Sessions evicted after a failed broadcast send"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
