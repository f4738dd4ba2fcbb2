package metricreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryContainsCoreMetrics(t *testing.T) {
	r := Default()
	spec, ok := r.Get("resting_hr")
	require.True(t, ok)
	assert.Equal(t, "cardiometabolic", spec.Domain)
	assert.Equal(t, DirectionLowerBetter, spec.Direction)
}

func TestGetUnknownMetric(t *testing.T) {
	r := Default()
	_, ok := r.Get("not_a_real_metric")
	assert.False(t, ok)
}

func TestRangeContains(t *testing.T) {
	rng := Range{Lo: 10, Hi: 20}
	assert.True(t, rng.Contains(10))
	assert.True(t, rng.Contains(20))
	assert.False(t, rng.Contains(9.99))
	assert.False(t, rng.Contains(20.01))
}

func TestKeysPreservesRegistrationOrder(t *testing.T) {
	r := New([]Spec{{Key: "b"}, {Key: "a"}, {Key: "c"}})
	assert.Equal(t, []string{"b", "a", "c"}, r.Keys())
}

func TestNewPanicsOnDuplicateKey(t *testing.T) {
	assert.Panics(t, func() {
		New([]Spec{{Key: "dup"}, {Key: "dup"}})
	})
}

func TestMustGetPanicsOnMissing(t *testing.T) {
	r := Default()
	assert.Panics(t, func() {
		r.MustGet("missing")
	})
}
