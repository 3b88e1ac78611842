package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/connectsphere/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{TraceExporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Unknown(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestStartSpanAndEnd(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.op")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { End(span, errors.New("failed")) })
}
