package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/version"
)

type publishedEvent struct {
	payload any
	subject string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, subject string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{subject: subject, payload: payload})
}

func (r *recordingPublisher) Connected() bool { return true }

func (r *recordingPublisher) Close() {}

func (r *recordingPublisher) snapshot() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]publishedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newHeartbeatFixture(t *testing.T) (*HeartbeatService, *recordingPublisher) {
	t.Helper()
	log := createTestLogger()

	statsSvc := NewStatsService(log)
	require.NoError(t, statsSvc.Start(context.Background()))

	recorder := &recordingPublisher{}
	busSvc := NewBusService(&config.BusConfig{}, log)
	busSvc.publisher = recorder

	hb := NewHeartbeatService(&config.EngineeringConfig{}, time.Now(), log)
	hb.SetBusService(busSvc)
	hb.SetStatsService(statsSvc)
	return hb, recorder
}

func TestHeartbeatService_BeatPublishesWorkerStatus(t *testing.T) {
	hb, recorder := newHeartbeatFixture(t)

	hb.beat(context.Background())

	events := recorder.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWorkerStatus, events[0].subject)

	status, ok := events[0].payload.(domain.WorkerStatusEvent)
	require.True(t, ok)
	assert.Equal(t, version.Name, status.Worker)
	assert.Equal(t, "running", status.State)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHeartbeatService_LoopBeatsOnInterval(t *testing.T) {
	hb, recorder := newHeartbeatFixture(t)
	hb.SetInterval(10 * time.Millisecond)

	require.NoError(t, hb.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(recorder.snapshot()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hb.Stop(context.Background()))
}

func TestHeartbeatService_StopBeforeStart(t *testing.T) {
	hb, _ := newHeartbeatFixture(t)

	assert.NoError(t, hb.Stop(context.Background()))
}
