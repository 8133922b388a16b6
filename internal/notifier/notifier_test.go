package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockMessagePublisher 是 MessagePublisher 的 mock 实现
type MockMessagePublisher struct {
	mock.Mock
}

func (m *MockMessagePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, *models.AllocationRecord) error { return f.err }

type countingPublisher struct{ calls int }

func (c *countingPublisher) Publish(context.Context, *models.AllocationRecord) error {
	c.calls++
	return nil
}

func sampleRecord() *models.AllocationRecord {
	return &models.AllocationRecord{
		RecordID:     "rec-1",
		IncidentID:   "i1",
		Kind:         models.KindAllocation,
		DisasterType: models.DisasterFlood,
		Severity:     models.SeverityHigh,
		Region:       "R1",
		Requested:    models.Quantities{models.ResourceRescueTeam: 3},
		Granted:      models.Quantities{models.ResourceRescueTeam: 2},
		Status:       models.StatusPartial,
		Timestamp:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStreamPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewStreamPublisher(client, "disaster:allocations", zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), sampleRecord()))

	msgs, err := client.XRange(context.Background(), "disaster:allocations", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "i1", msgs[0].Values["incident_id"])
	assert.Equal(t, "Partial", msgs[0].Values["status"])

	var got models.AllocationRecord
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, 2, got.Granted[models.ResourceRescueTeam])
	assert.Equal(t, models.SeverityHigh, got.Severity)
}

func TestMQTTPublisher_TopicPerRegion(t *testing.T) {
	client := new(MockMessagePublisher)
	client.On("Publish", "disaster/allocations/R1", byte(1), false, mock.MatchedBy(func(payload []byte) bool {
		var rec models.AllocationRecord
		return json.Unmarshal(payload, &rec) == nil && rec.IncidentID == "i1"
	})).Return(nil).Once()

	p := NewMQTTPublisher(client, "disaster/allocations", 1, zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), sampleRecord()))
	client.AssertExpectations(t)
}

func TestMQTTPublisher_Error(t *testing.T) {
	client := new(MockMessagePublisher)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not connected"))

	p := NewMQTTPublisher(client, "disaster/allocations", 0, zap.NewNop())
	err := p.Publish(context.Background(), sampleRecord())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disaster/allocations/R1")
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	counter := &countingPublisher{}
	boom := errors.New("boom")
	m := Multi{failingPublisher{err: boom}, counter}

	err := m.Publish(context.Background(), sampleRecord())
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, counter.calls)

	assert.NoError(t, Multi{counter}.Publish(context.Background(), sampleRecord()))
}
