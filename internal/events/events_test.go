package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chameleoncloud/doni/internal/state"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][]byte
	err  error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.msgs == nil {
		p.msgs = map[string][]byte{}
	}
	p.msgs[subject] = data
	return nil
}

type emitterFunc func(ctx context.Context, e Event) error

func (f emitterFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

func sampleTransition() state.Transition {
	return state.Transition{
		HardwareID: uuid.MustParse("5f0c3a5e-8c3b-4a44-9b4b-2c8f7f0e2d11"),
		WorkerType: "blazar.physical_host",
		From:       state.StatePending,
		To:         state.StateSteady,
		Details:    map[string]any{"blazar_host_id": "42"},
		Generation: 3,
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNATSEmitter_Emit(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	em := NewNATSEmitter(pub, "doni.worker")

	require.NoError(t, em.Emit(context.Background(), FromTransition(sampleTransition())))

	payload, ok := pub.msgs["doni.worker.blazar_physical_host.steady"]
	require.True(t, ok, "published subjects: %v", pub.msgs)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "5f0c3a5e-8c3b-4a44-9b4b-2c8f7f0e2d11", got["hardware_id"])
	assert.Equal(t, "PENDING", got["old_state"])
	assert.Equal(t, "STEADY", got["new_state"])
	assert.Equal(t, float64(3), got["generation"])
	assert.Equal(t, map[string]any{"blazar_host_id": "42"}, got["details"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got["timestamp"])
}

func TestNATSEmitter_PublishError(t *testing.T) {
	t.Parallel()

	em := NewNATSEmitter(&recordingPublisher{err: errors.New("nats: connection closed")}, "doni.worker")
	err := em.Emit(context.Background(), FromTransition(sampleTransition()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
	assert.NoError(t, em.Close())
}

func TestLogEmitter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	em := NewLogEmitter(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, em.Emit(context.Background(), FromTransition(sampleTransition())))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Worker state changed", line["msg"])
	assert.Equal(t, "blazar.physical_host", line["worker_type"])
	assert.Equal(t, "STEADY", line["new_state"])
}

func TestMulti(t *testing.T) {
	t.Parallel()

	var calls int
	ok := emitterFunc(func(context.Context, Event) error {
		calls++
		return nil
	})
	failing := emitterFunc(func(context.Context, Event) error {
		calls++
		return errors.New("sink down")
	})

	err := Multi{failing, ok}.Emit(context.Background(), Event{})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, Multi{}.Emit(context.Background(), Event{}))
}

func TestObserver(t *testing.T) {
	t.Parallel()

	var got []Event
	obs := Observer(emitterFunc(func(_ context.Context, e Event) error {
		got = append(got, e)
		return errors.New("ignored")
	}))

	assert.NotPanics(t, func() {
		obs.OnTransition(context.Background(), sampleTransition())
	})
	require.Len(t, got, 1)
	assert.Equal(t, state.StatePending, got[0].OldState)
	assert.Equal(t, int64(3), got[0].Generation)
}
