package processors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/models"
)

func TestTimePatternDeadOfNightWindow(t *testing.T) {
	tests := []struct {
		hour  int
		flags bool
	}{
		{1, false},
		{2, true},
		{3, true},
		{5, true},
		{6, false},
		{14, false},
		{23, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("hour-%02d", tt.hour), func(t *testing.T) {
			ts := time.Date(2026, 4, 10, tt.hour, 30, 0, 0, time.UTC)
			signals := NewTimePatternProcessor().Process("u1", &Input{
				Auth: &models.AuthContext{UserID: "u1", TenantID: "t1", Timestamp: ts},
			})

			if !tt.flags {
				assert.Empty(t, signals)
				return
			}
			require.Len(t, signals, 1)
			assert.Equal(t, "time_pattern", signals[0].Type)
			assert.Equal(t, 0.6, signals[0].Value)
			assert.Equal(t, 0.7, signals[0].Confidence)
			assert.Equal(t, ts, signals[0].Timestamp)
		})
	}
}
