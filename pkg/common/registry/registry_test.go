package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheEntropyCollective/taskengine/pkg/common/telemetry"
)

type stubLogger struct{ telemetry.Logger }

func TestRegistry_DefaultsToNop(t *testing.T) {
	r := New()
	assert.Equal(t, telemetry.Nop, r.Logger())
	assert.Equal(t, telemetry.NopMetrics, r.Metrics())
}

func TestRegistry_SetThenSnapshotReflectsCurrentState(t *testing.T) {
	r := New()
	custom := stubLogger{telemetry.Nop}
	r.SetLogger(custom)

	snap := r.Snapshot()
	assert.Equal(t, telemetry.Logger(custom), snap.Logger)
}

func TestRegistry_SnapshotIsIndependentOfLaterChanges(t *testing.T) {
	r := New()
	snap := r.Snapshot()
	r.SetLogger(stubLogger{telemetry.Nop})

	assert.Equal(t, telemetry.Nop, snap.Logger)
}

func TestRegistry_SetNilResetsToNop(t *testing.T) {
	r := New()
	r.SetLogger(stubLogger{telemetry.Nop})
	r.SetLogger(nil)
	assert.Equal(t, telemetry.Nop, r.Logger())
}
