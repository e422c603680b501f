package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// ============================================================
// Level Computation
// ============================================================

func encodeSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestMeanAbsLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty buffer", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"positive samples", []int16{100, 200, 300, 400}, 250},
		{"negative samples", []int16{-100, -200, -300, -400}, 250},
		{"mixed signs", []int16{-500, 500, -500, 500}, 500},
		{"full scale positive", []int16{math.MaxInt16}, 32767},
		{"full scale negative", []int16{math.MinInt16}, 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := meanAbsLevel(encodeSamples(tt.samples))
			if got != tt.want {
				t.Errorf("meanAbsLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanAbsLevel_IgnoresTrailingByte(t *testing.T) {
	buf := append(encodeSamples([]int16{100, 100}), 0xFF)
	if got := meanAbsLevel(buf); got != 100 {
		t.Errorf("meanAbsLevel() = %v, want 100", got)
	}
}

func TestMeanAbsLevel_SingleByteIsSilence(t *testing.T) {
	if got := meanAbsLevel([]byte{0xFF}); got != 0 {
		t.Errorf("meanAbsLevel() = %v, want 0", got)
	}
}
