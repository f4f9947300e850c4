package walter_arm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "walter_arm/controller"

// loopMetrics are recorded on the global meter provider, a no-op unless one is installed.
type loopMetrics struct {
	ticks          metric.Int64Counter
	sensorFailures metric.Int64Counter
	busResets      metric.Int64Counter
	tickDuration   metric.Float64Histogram
}

func newLoopMetrics() (*loopMetrics, error) {
	m := otel.Meter(instrumentationName)
	lm := &loopMetrics{}

	var err error
	lm.ticks, err = m.Int64Counter(
		"controller.ticks",
		metric.WithDescription("Control loop ticks executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}

	lm.sensorFailures, err = m.Int64Counter(
		"controller.sensor.failures",
		metric.WithDescription("Failed angle sensor reads"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sensor failure counter: %w", err)
	}

	lm.busResets, err = m.Int64Counter(
		"controller.bus.resets",
		metric.WithDescription("Sensor bus resets"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bus reset counter: %w", err)
	}

	lm.tickDuration, err = m.Float64Histogram(
		"controller.tick.duration",
		metric.WithDescription("Time spent in one control loop tick"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick duration histogram: %w", err)
	}

	return lm, nil
}

func (lm *loopMetrics) recordTick(ctx context.Context, state ControllerState, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", state.String()))
	lm.ticks.Add(ctx, 1, attrs)
	lm.tickDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

func (lm *loopMetrics) recordSensorFailure(ctx context.Context, joint int) {
	lm.sensorFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("joint", JointName(joint))))
}

func (lm *loopMetrics) recordBusReset(ctx context.Context) {
	lm.busResets.Add(ctx, 1)
}
