package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "%v not within [%v, %v]", got, before, after)
}

func TestClockToday(t *testing.T) {
	t.Parallel()

	clk := New()
	got := clk.Today(time.FixedZone("JST", 9*3600))
	require.Len(t, got, 8)
	_, err := time.Parse("20060102", got)
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format("20060102"), clk.Today(nil))
}
