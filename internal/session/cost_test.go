package session

import (
	"math"
	"testing"
)

func TestDefaultRates(t *testing.T) {
	rates := DefaultRates()

	if rates.InputPer1K != 0.001 {
		t.Errorf("Expected InputPer1K=0.001, got %f", rates.InputPer1K)
	}
	if rates.OutputPer1K != 0.002 {
		t.Errorf("Expected OutputPer1K=0.002, got %f", rates.OutputPer1K)
	}
}

func TestCost(t *testing.T) {
	rates := DefaultRates()

	tests := []struct {
		in, out int
		want    float64
	}{
		{0, 0, 0},
		{1000, 0, 0.001},
		{0, 1000, 0.002},
		{500, 500, 0.0015},
		{2000, 1000, 0.004},
	}

	for _, tt := range tests {
		got := rates.Cost(tt.in, tt.out)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Cost(%d, %d): expected %f, got %f", tt.in, tt.out, tt.want, got)
		}
	}
}

func TestDefaultTextCaps(t *testing.T) {
	caps := DefaultTextCaps()

	if caps.Input != 100 {
		t.Errorf("Expected input cap 100, got %d", caps.Input)
	}
	if caps.Output != 200 {
		t.Errorf("Expected output cap 200, got %d", caps.Output)
	}
}
