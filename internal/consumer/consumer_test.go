package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	rediscommon "github.com/DEVa-26/Disaster/common/redis"
	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockAllocator 是 Allocator 的 mock 实现
type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context, req models.IncidentRequest) (*models.AllocationRecord, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AllocationRecord), args.Error(1)
}

func setupConsumer(t *testing.T, allocator Allocator) (*redis.Client, *StreamConsumer) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewStreamConsumer(StreamConfig{
		Stream:   "disaster:incidents",
		Group:    "allocator",
		Consumer: "test-1",
		Block:    10 * time.Millisecond,
	}, client, allocator, zap.NewNop())
	require.NoError(t, rediscommon.CreateConsumerGroup(context.Background(), client, "disaster:incidents", "allocator"))
	return client, c
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	p, err := client.XPending(context.Background(), "disaster:incidents", "allocator").Result()
	require.NoError(t, err)
	return p.Count
}

func TestStreamConsumer_AllocatesAndAcks(t *testing.T) {
	allocator := new(MockAllocator)
	allocator.On("Allocate", mock.MatchedBy(func(req models.IncidentRequest) bool {
		return req.IncidentID == "i1" && req.Severity == models.SeverityHigh && req.DisasterType == models.DisasterFlood
	})).Return(&models.AllocationRecord{IncidentID: "i1", Status: models.StatusFulfilled}, nil).Once()

	client, c := setupConsumer(t, allocator)
	ctx := context.Background()

	_, err := rediscommon.PublishJSONToStream(ctx, client, "disaster:incidents", map[string]interface{}{
		"incident_id":   "i1",
		"disaster_type": "Flood",
		"severity":      "Severe",
		"location":      "Mumbai",
	})
	require.NoError(t, err)

	// pending 为空时同一轮继续读取新消息
	n, err := c.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, c.retryPending)
	assert.Equal(t, int64(0), pendingCount(t, client))
	allocator.AssertExpectations(t)
}

func TestStreamConsumer_RetryableLeftPending(t *testing.T) {
	allocator := new(MockAllocator)
	allocator.On("Allocate", mock.Anything).
		Return(nil, fmt.Errorf("wrapped: %w", models.ErrAllocationTimeout)).Once()

	client, c := setupConsumer(t, allocator)
	ctx := context.Background()
	c.retryPending = false

	_, err := rediscommon.PublishJSONToStream(ctx, client, "disaster:incidents", models.IncidentRequest{
		IncidentID: "i2", DisasterType: models.DisasterFire, Severity: models.SeverityLow,
	})
	require.NoError(t, err)

	_, err = c.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pendingCount(t, client))
	assert.True(t, c.retryPending)
	assert.Equal(t, 1, c.deferred)
}

func TestStreamConsumer_BacksOffOnDeferredMessage(t *testing.T) {
	allocator := new(MockAllocator)
	allocator.On("Allocate", mock.Anything).
		Return(nil, fmt.Errorf("allocate i4: %w", models.ErrAllocationTimeout))

	client, c := setupConsumer(t, allocator)
	_, err := rediscommon.PublishJSONToStream(context.Background(), client, "disaster:incidents", models.IncidentRequest{
		IncidentID: "i4", DisasterType: models.DisasterFlood, Severity: models.SeverityHigh,
	})
	require.NoError(t, err)

	// 首次退避 1s，窗口内不应再次重读 pending
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	allocator.AssertNumberOfCalls(t, "Allocate", 1)
	assert.Equal(t, int64(1), pendingCount(t, client))
}

func TestStreamConsumer_PoisonMessageAcked(t *testing.T) {
	allocator := new(MockAllocator)
	client, c := setupConsumer(t, allocator)
	ctx := context.Background()
	c.retryPending = false

	_, err := rediscommon.PublishToStream(ctx, client, "disaster:incidents", map[string]interface{}{"data": `{"incident_id":"i3","severity":"Apocalyptic"}`})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, "disaster:incidents", map[string]interface{}{"other": "x"})
	require.NoError(t, err)

	n, err := c.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0), pendingCount(t, client))
	allocator.AssertNotCalled(t, "Allocate", mock.Anything)
}

func TestStreamConsumer_StartStopsOnCancel(t *testing.T) {
	allocator := new(MockAllocator)
	_, c := setupConsumer(t, allocator)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestMQTTIntake_SingleAndBatch(t *testing.T) {
	allocator := new(MockAllocator)
	allocator.On("Allocate", mock.MatchedBy(func(req models.IncidentRequest) bool { return req.IncidentID == "a" })).
		Return(&models.AllocationRecord{IncidentID: "a", Status: models.StatusPartial}, nil)
	allocator.On("Allocate", mock.MatchedBy(func(req models.IncidentRequest) bool { return req.IncidentID == "b" })).
		Return(nil, models.ErrUnknownResource)

	h := NewMQTTIntake(allocator, time.Second, zap.NewNop())

	require.NoError(t, h.HandleMessage("disaster/intake", []byte(`{"incident_id":"a","disaster_type":"Fire","severity":"High"}`)))

	err := h.HandleMessage("disaster/intake", []byte(`[
		{"incident_id":"a","disaster_type":"Fire","severity":"High"},
		{"incident_id":"b","disaster_type":"Collapse","severity":"Mild"}
	]`))
	assert.True(t, errors.Is(err, models.ErrUnknownResource))
	allocator.AssertNumberOfCalls(t, "Allocate", 3)
}

func TestMQTTIntake_InvalidPayload(t *testing.T) {
	h := NewMQTTIntake(new(MockAllocator), 0, zap.NewNop())

	assert.Error(t, h.HandleMessage("disaster/intake", []byte("  ")))
	assert.Error(t, h.HandleMessage("disaster/intake", []byte(`{"incident_id":"x","disaster_type":"Meteor","severity":"High"}`)))
}
