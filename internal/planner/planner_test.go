package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

func testLimits() Limits {
	return Limits{
		TargetBytes:            24 * 1024 * 1024,
		ProviderLimitBytes:     25 * 1024 * 1024,
		WindowSeconds:          600,
		MaxCallDurationSeconds: 3600,
	}
}

func TestPlanNoOpForSmallFiles(t *testing.T) {
	d, err := Plan(120, 5*1024*1024, testLimits())
	require.NoError(t, err)

	assert.False(t, d.Compress)
	assert.False(t, d.Chunked())
	require.Len(t, d.Plan.Chunks, 1)
	assert.Equal(t, 0.0, d.Plan.Chunks[0].StartSeconds)
	assert.Equal(t, 120.0, d.Plan.Chunks[0].EndSeconds)
}

func TestPlanCompressOnly(t *testing.T) {
	// 200MB over 45min compresses comfortably under the provider limit.
	d, err := Plan(2700, 200*1024*1024, testLimits())
	require.NoError(t, err)

	assert.True(t, d.Compress)
	assert.False(t, d.Chunked())
	assert.Equal(t, CeilingBitrate, d.TargetBitrate)
}

func TestPlanBitrateClamp(t *testing.T) {
	// Short, huge file wants an absurd bitrate; clamp to the ceiling.
	d, err := Plan(60, 100*1024*1024, testLimits())
	require.NoError(t, err)
	assert.Equal(t, CeilingBitrate, d.TargetBitrate)

	// Very long file wants almost nothing; clamp to the floor.
	d, err = Plan(48*3600, 26*1024*1024, Limits{
		TargetBytes:            24 * 1024 * 1024,
		ProviderLimitBytes:     25 * 1024 * 1024,
		WindowSeconds:          600,
		MaxCallDurationSeconds: 100 * 3600,
	})
	require.NoError(t, err)
	assert.Equal(t, FloorBitrate, d.TargetBitrate)
}

func TestPlanChunksWhenCallDurationExceeded(t *testing.T) {
	limits := testLimits()
	limits.MaxCallDurationSeconds = 600

	d, err := Plan(2700, 200*1024*1024, limits)
	require.NoError(t, err)

	assert.True(t, d.Chunked())
	assert.Len(t, d.Plan.Chunks, 5)
}

func TestSplitPlanPartition(t *testing.T) {
	plan, err := SplitPlan(2700, 32_000, testLimits())
	require.NoError(t, err)

	require.Len(t, plan.Chunks, 5)
	assert.Equal(t, 300.0, plan.Chunks[4].Duration())

	// Exhaustive offset walk: chunks partition [0, 2700) with no gaps.
	cursor := 0.0
	for i, c := range plan.Chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, cursor, c.StartSeconds)
		assert.Greater(t, c.EndSeconds, c.StartSeconds)
		cursor = c.EndSeconds
	}
	assert.Equal(t, 2700.0, cursor)
}

func TestSplitPlanHalvesWindow(t *testing.T) {
	limits := testLimits()
	limits.ProviderLimitBytes = 2 * 1024 * 1024

	// 64kbps over 600s is ~4.8MB; halve to 300s then 150s to fit 2MB.
	plan, err := SplitPlan(2700, 64_000, limits)
	require.NoError(t, err)

	assert.Equal(t, 150.0, plan.WindowSeconds)
	assert.Len(t, plan.Chunks, 18)
}

func TestSplitPlanWindowFloor(t *testing.T) {
	limits := testLimits()
	limits.ProviderLimitBytes = 400 * 1024

	_, err := SplitPlan(2700, 64_000, limits)
	assert.ErrorIs(t, err, types.ErrChunkWindowFloor)
}

func TestPlanRejectsZeroDuration(t *testing.T) {
	_, err := Plan(0, 1024, testLimits())
	assert.ErrorIs(t, err, types.ErrCorruptMedia)
}
