package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/telemetry"
)

func TestNewStdoutStartsSpansAndRecordsOutcomes(t *testing.T) {
	tel, err := telemetry.NewStdout("acteon-test")
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	ctx, span := tel.StartSpan(context.Background(), "acteon.dispatch")
	assert.NotNil(t, span)
	tel.RecordOutcome(ctx, "slack", "executed")
	span.End()
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *telemetry.Telemetry
	ctx, span := tel.StartSpan(context.Background(), "acteon.dispatch")
	assert.NotNil(t, span)
	tel.RecordOutcome(ctx, "slack", "executed")
	assert.NoError(t, tel.Shutdown(context.Background()))
}
