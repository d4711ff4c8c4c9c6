package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

func TestSerializeSummary(t *testing.T) {
	finished := time.Date(2025, time.January, 15, 12, 30, 0, 0, time.UTC)
	event := domain.RunSummaryEvent{
		RunID:      42,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Stations:   120,
		Timesteps:  2160,
		Summary: domain.Summary{
			TotalValues:   259200,
			SeasonalFlags: 31,
			BuddyFlags:    12,
		},
	}

	msg, err := serializeSummary(event)
	require.NoError(t, err)

	assert.Equal(t, []byte("42"), msg.Key)
	assert.Contains(t, string(msg.Value), `"seasonal_flags":31`)
	assert.Contains(t, string(msg.Value), `"total_values":259200`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("42"), msg.Headers[0].Value)
	assert.Equal(t, "finished_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(finished.Format(time.RFC3339)), msg.Headers[1].Value)
}
