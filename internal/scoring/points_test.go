package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hootlabs/hoot/internal/scoring"
)

func TestPoints(t *testing.T) {
	tests := map[string]struct {
		correct      bool
		elapsedMs    int64
		timeLimitSec int
		want         int64
	}{
		"instant correct answer earns the full bonus": {
			correct: true, elapsedMs: 0, timeLimitSec: 15, want: 257,
		},
		"answer at the limit earns base points": {
			correct: true, elapsedMs: 15000, timeLimitSec: 15, want: 100,
		},
		"two seconds in on a 15s question": {
			correct: true, elapsedMs: 2000, timeLimitSec: 15, want: 236,
		},
		"wrong answer scores zero": {
			correct: false, elapsedMs: 0, timeLimitSec: 15, want: 0,
		},
		"past the limit clamps to base points": {
			correct: true, elapsedMs: 16000, timeLimitSec: 15, want: 100,
		},
		"negative elapsed clamps to the full bonus": {
			correct: true, elapsedMs: -50, timeLimitSec: 15, want: 257,
		},
		"instant correct on a 30s question": {
			correct: true, elapsedMs: 0, timeLimitSec: 30, want: 415,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoring.Points(tt.correct, tt.elapsedMs, tt.timeLimitSec))
		})
	}
}

func TestPoints_MonotoneInElapsed(t *testing.T) {
	prev := scoring.Points(true, 0, 15)
	for elapsed := int64(1); elapsed <= 15000; elapsed += 7 {
		got := scoring.Points(true, elapsed, 15)
		assert.LessOrEqual(t, got, prev, "faster answers never score less (elapsed=%d)", elapsed)
		prev = got
	}
}
