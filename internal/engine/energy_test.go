package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnergyConsume(t *testing.T) {
	e := NewEnergy(3)
	assert.True(t, e.Consume())
	assert.True(t, e.Consume())
	assert.True(t, e.Consume())
	assert.False(t, e.Exhausted())
	assert.NoError(t, e.Err("shout test"))

	assert.False(t, e.Consume())
	assert.False(t, e.Consume())
	assert.True(t, e.Exhausted())
	assert.Equal(t, 0, e.Remaining())
	assert.Equal(t, 3, e.Used())

	err := e.Err("shout test")
	require.Error(t, err)
	assert.True(t, IsEnergyExhaustedError(err))
	assert.True(t, IsEnergyError(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "2 dispatches skipped")
}

func TestEnergyZeroLimit(t *testing.T) {
	e := NewEnergy(0)
	assert.False(t, e.Consume())
	assert.True(t, e.Exhausted())
}
