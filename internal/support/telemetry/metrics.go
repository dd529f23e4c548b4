package telemetry

import "context"

// Meter is the minimal metrics interface used across the connector's
// components: backend-agnostic (logs, Prometheus, OTel), stdlib-only at
// this layer.
type Meter interface {
	IncCounter(ctx context.Context, name string, delta int64, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
}

// NopMeter discards everything; the default when no meter is wired.
type NopMeter struct{}

func (NopMeter) IncCounter(ctx context.Context, name string, delta int64, labels map[string]string) {}
func (NopMeter) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) {}

// LogMeter forwards metric events into a Logger at debug level, a
// dependency-free stand-in until a real metrics sink is wired.
type LogMeter struct {
	Logger *Logger
}

func (m LogMeter) IncCounter(ctx context.Context, name string, delta int64, labels map[string]string) {
	if m.Logger == nil {
		return
	}
	fields := make(map[string]any, len(labels)+2)
	for k, v := range labels {
		fields[k] = v
	}
	fields["metric"] = name
	fields["delta"] = delta
	m.Logger.Debug("counter", fields)
}

func (m LogMeter) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) {
	if m.Logger == nil {
		return
	}
	fields := make(map[string]any, len(labels)+2)
	for k, v := range labels {
		fields[k] = v
	}
	fields["metric"] = name
	fields["value"] = value
	m.Logger.Debug("gauge", fields)
}
