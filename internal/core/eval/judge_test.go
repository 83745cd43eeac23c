package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{name: "in range", raw: `{"score": 0.85}`, want: 0.85},
		{name: "surrounding whitespace", raw: "\n {\"score\": 0.4} \n", want: 0.4},
		{name: "above range is clamped", raw: `{"score": 1.5}`, want: 1.0},
		{name: "below range is clamped", raw: `{"score": -0.2}`, want: 0.0},
		{name: "integer score", raw: `{"score": 1}`, want: 1.0},
		{name: "malformed json", raw: `score: 0.9`, wantErr: true},
		{name: "missing score", raw: `{"rating": 0.9}`, wantErr: true},
		{name: "string score", raw: `{"score": "0.9"}`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScore(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrJudgeParse)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestJudgeUserMessage(t *testing.T) {
	msg := JudgeUserMessage("five days", "about a week")
	assert.Equal(t, "Expected answer: five days\n\nGenerated answer: about a week", msg)
}
