package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetadataTTL(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		endAt time.Time
		want  time.Duration
	}{
		{
			name:  "hour remaining gets hour plus margin",
			endAt: now.Add(time.Hour),
			want:  time.Hour + metadataTTLMargin,
		},
		{
			name:  "just ended still keeps the margin",
			endAt: now,
			want:  metadataTTLMargin,
		},
		{
			name:  "long past end clamps to floor",
			endAt: now.Add(-time.Hour),
			want:  metadataTTLFloor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, metadataTTL(tt.endAt, now))
		})
	}
}
