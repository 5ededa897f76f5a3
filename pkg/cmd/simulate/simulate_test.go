package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRacerSpeeds(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		speed  float64
		spread float64
		want   []float64
	}{
		{"single", 1, 40, 0.1, []float64{40}},
		{"two", 2, 40, 0.5, []float64{40, 20}},
		{"five", 5, 100, 0.2, []float64{100, 95, 90, 85, 80}},
		{"no spread", 3, 30, 0, []float64{30, 30, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := racerSpeeds(tt.n, tt.speed, tt.spread)
			assert.InDeltaSlice(t, tt.want, got, 1e-9)
		})
	}
}
