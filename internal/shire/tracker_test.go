package shire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegalTransitionsOnly(t *testing.T) {
	tr := NewTracker(4)
	require.NoError(t, tr.UpdateState(0, Running))
	assert.Error(t, tr.UpdateState(0, Running), "Running -> Running is illegal")
	require.NoError(t, tr.UpdateState(0, Complete))
	require.NoError(t, tr.UpdateState(0, Idle))
}

func TestAllShiresReadyRequiresEveryMaskedShireIdle(t *testing.T) {
	tr := NewTracker(4)
	mask := uint64(0b0011)
	assert.True(t, tr.AllShiresReady(mask))

	require.NoError(t, tr.UpdateState(1, Running))
	assert.False(t, tr.AllShiresReady(mask))
}

func TestAllShiresCompleteMergesAnyErrorAcrossMask(t *testing.T) {
	tr := NewTracker(4)
	mask := uint64(0b0011)
	require.NoError(t, tr.UpdateState(0, Running))
	require.NoError(t, tr.UpdateState(1, Running))
	require.NoError(t, tr.UpdateState(0, Complete))
	require.NoError(t, tr.UpdateState(1, Error))

	done, anyErr := tr.AllShiresComplete(mask)
	assert.True(t, done)
	assert.True(t, anyErr)
}

func TestKernelIDClearsOnReturnToIdle(t *testing.T) {
	tr := NewTracker(1)
	tr.SetKernelID(0, 7)
	id, ok := tr.GetKernelID(0)
	require.True(t, ok)
	assert.EqualValues(t, 7, id)

	require.NoError(t, tr.UpdateState(0, Running))
	require.NoError(t, tr.UpdateState(0, Complete))
	require.NoError(t, tr.UpdateState(0, Idle))
	_, ok = tr.GetKernelID(0)
	assert.False(t, ok)
}
