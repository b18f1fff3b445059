package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerProviderExportsSpans(t *testing.T) {
	var out bytes.Buffer
	tp, err := NewTracerProvider("testfleet-test", "v0", WithTraceWriter(&out))
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "dispatch")
	span.SetAttributes(AttrRunID.String("run1"))
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, out.String(), `"Name":"dispatch"`)
	assert.Contains(t, out.String(), "testfleet.run.id")
}

func TestTracerProviderZeroRatioSamplesNothing(t *testing.T) {
	var out bytes.Buffer
	tp, err := NewTracerProvider("testfleet-test", "v0", WithTraceWriter(&out), WithSampleRatio(0))
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "dispatch")
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Empty(t, out.String())
}

func TestNilTracerProviderShutdown(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
}
