package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickCandidate(t *testing.T) {
	cands := []candidate{
		{Name: "Buds", Address: "AA:AA:AA:AA:AA:01", RSSI: -70},
		{Name: "Speaker", Address: "AA:AA:AA:AA:AA:02", RSSI: -40},
		{Name: "", Address: "AA:AA:AA:AA:AA:03", RSSI: -40},
		{Name: "Buds Pro", Address: "AA:AA:AA:AA:AA:04", RSSI: -55},
	}

	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"all devices picks strongest, first on tie", Filter{AcceptAllDevices: true}, "AA:AA:AA:AA:AA:02"},
		{"name prefix", Filter{NamePrefix: "Buds"}, "AA:AA:AA:AA:AA:04"},
		{"address is case insensitive", Filter{Address: "aa:aa:aa:aa:aa:01"}, "AA:AA:AA:AA:AA:01"},
		{"both criteria", Filter{NamePrefix: "Buds", Address: "AA:AA:AA:AA:AA:01"}, "AA:AA:AA:AA:AA:01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickCandidate(cands, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Address)
		})
	}
}

func TestPickCandidateNoMatch(t *testing.T) {
	_, err := pickCandidate(nil, Filter{AcceptAllDevices: true})
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = pickCandidate([]candidate{{Name: "Mouse", Address: "11:22"}}, Filter{NamePrefix: "Buds"})
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestFilterValidate(t *testing.T) {
	assert.Error(t, Filter{}.validate())
	assert.NoError(t, Filter{AcceptAllDevices: true}.validate())
	assert.NoError(t, Filter{NamePrefix: "Buds"}.validate())
	assert.NoError(t, Filter{Address: "AA:BB"}.validate())
}

func TestScanSetMergesSightings(t *testing.T) {
	var s scanSet
	assert.True(t, s.observe(candidate{Name: "Buds", Address: "AA:01", RSSI: -80}))
	assert.True(t, s.observe(candidate{Address: "AA:02", RSSI: -60}))
	assert.False(t, s.observe(candidate{Address: "AA:01", RSSI: -50}), "repeat sighting")
	assert.False(t, s.observe(candidate{Name: "Speaker", Address: "AA:02", RSSI: -65}))

	assert.Equal(t, []candidate{
		{Name: "Buds", Address: "AA:01", RSSI: -50},
		{Name: "Speaker", Address: "AA:02", RSSI: -65},
	}, s.list())

	got := s.list()
	got[0].Name = "changed"
	assert.Equal(t, "Buds", s.list()[0].Name)
}

func TestScanOver(t *testing.T) {
	now := time.Now()
	ctx := context.Background()
	assert.False(t, scanOver(ctx, now.Add(time.Second), now))
	assert.True(t, scanOver(ctx, now, now))
	assert.True(t, scanOver(ctx, now.Add(-time.Nanosecond), now))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, scanOver(cancelled, now.Add(time.Hour), now))
}
