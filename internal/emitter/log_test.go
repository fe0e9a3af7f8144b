package emitter

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

func TestLogEmitter_Emit(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(telemetry.NewLoggerTo(&buf, "report"))

	report := volumeReport(makeRecord("vol-1", resource.Detached), makeRecord("vol-2", resource.Attached))
	require.NoError(t, e.Emit(context.Background(), report))

	out := buf.String()
	assert.Contains(t, out, `"message":"report complete"`)
	assert.Contains(t, out, `"resources":2`)
	assert.Contains(t, out, `"detached":1`)
	assert.Contains(t, out, `"kind":"volume"`)
	assert.NoError(t, e.Close())
}

func TestLogEmitter_Error(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(telemetry.NewLoggerTo(&buf, "report"))

	err := e.Emit(context.Background(), Report{Provider: "aws", Kind: resource.KindVolume, Error: errors.New("listing failed")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "listing failed")
	assert.Contains(t, buf.String(), `"level":"error"`)
}
