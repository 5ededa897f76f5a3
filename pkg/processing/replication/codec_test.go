package replication

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/transport"
)

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec()
	tests := []struct {
		name string
		u    transport.Update
	}{
		{
			name: "state without lap",
			u: transport.Update{
				Kind:   transport.KindState,
				Origin: "session-1",
				Snapshot: model.RacerSnapshot{
					ID: "A", Seq: 17, WaypointIndex: 2, Progress: 0.53,
					CurrentLapStartTime: 1.5, BestLapTime: math.Inf(1),
				},
			},
		},
		{
			name: "state after laps",
			u: transport.Update{
				Kind:   transport.KindState,
				Origin: "session-1",
				Snapshot: model.RacerSnapshot{
					ID: "B", Seq: 1 << 40, WaypointIndex: 0, Progress: 0.01,
					LapsCompleted: 3, CurrentLapStartTime: 95.25,
					LastLapTime: 31.5, BestLapTime: 30.75, TotalRaceTime: 95.25,
				},
			},
		},
		{
			name: "leave",
			u: transport.Update{
				Kind:     transport.KindLeave,
				Snapshot: model.RacerSnapshot{ID: "C"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(c.Encode(tt.u))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.u, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodecVersion(t *testing.T) {
	u := transport.Update{Kind: transport.KindState, Snapshot: model.RacerSnapshot{ID: "A"}}
	tests := []struct {
		name    string
		version string
		wantErr error
	}{
		{"same", "v1.0.0", nil},
		{"newer minor", "v1.4.2", nil},
		{"other major", "v2.0.0", ErrIncompatibleVersion},
		{"invalid", "1.0", ErrIncompatibleVersion},
		{"missing", "", ErrIncompatibleVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &Codec{version: tt.version}
			_, err := NewCodec().Decode(sender.Encode(u))
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCodecMalformed(t *testing.T) {
	c := NewCodec()
	valid := c.Encode(transport.Update{
		Kind:     transport.KindState,
		Snapshot: model.RacerSnapshot{ID: "A", Progress: 0.5},
	})

	_, err := c.Decode(valid[:len(valid)-3])
	assert.ErrorIs(t, err, ErrMalformedUpdate, "truncated")

	_, err = c.Decode(c.Encode(transport.Update{Kind: transport.Kind(9),
		Snapshot: model.RacerSnapshot{ID: "A"}}))
	assert.ErrorIs(t, err, ErrMalformedUpdate, "unknown kind")

	_, err = c.Decode(c.Encode(transport.Update{Kind: transport.KindState}))
	assert.ErrorIs(t, err, ErrMalformedUpdate, "missing id")
}

func TestCodecSkipsUnknownFields(t *testing.T) {
	c := NewCodec()
	u := transport.Update{
		Kind:     transport.KindState,
		Snapshot: model.RacerSnapshot{ID: "A", Seq: 2, Progress: 0.25},
	}
	b := c.Encode(u)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future extension")
	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}
