package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chameleoncloud/doni/internal/executor"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/internal/worker/ironic"
	"github.com/chameleoncloud/doni/internal/worker/ironic/ironictest"
)

func TestRunOnce_IronicEnrollmentSteadyInOneCycle(t *testing.T) {
	t.Parallel()

	fake := ironictest.NewServer(t)
	fake.SetSettleAfter(2)
	w := ironic.New(httpclient.NewDefaultClient(fake.URL),
		ironic.WithProvisionWait(2*time.Second, time.Millisecond))

	h := newHarness(t, 2, 5*time.Second, w)

	var mu sync.Mutex
	var seen []state.State
	h.states = state.NewService(state.NewMemoryStore(), testPolicy(),
		state.WithClock(h.clock.Now),
		state.WithObserver(state.ObserverFunc(func(_ context.Context, tr state.Transition) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tr.To)
		})),
	)
	h.coord = New(h.hardware, h.states, h.types, h.exec, "proc-test", WithRemovedRetention(time.Hour))

	hw := &hardware.Hardware{
		ID:   uuid.New(),
		Name: "gpu-01",
		Type: testType,
		Properties: map[string]any{
			"management_address": "10.0.0.5",
			"ipmi_username":      "admin",
			"ipmi_password":      "secret",
			"baremetal_driver":   "ipmi",
		},
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, h.hardware.Create(context.Background(), hw))

	summary := h.runOnce(t)
	assert.Equal(t, Summary{Hardware: 1, Created: 1, Claimed: 1, Submitted: 1}, summary)

	ws := h.waitFor(t, hw.ID, ironic.Name, state.StateSteady)
	assert.Zero(t, ws.AttemptCount)
	assert.Empty(t, ws.LastError())
	assert.Equal(t, ironictest.CreatedAt, ws.Details["created_at"])

	node := fake.Node(hw.ID.String())
	require.NotNil(t, node)
	assert.Equal(t, "available", node["provision_state"])

	mu.Lock()
	assert.Equal(t, []state.State{state.StatePending, state.StateSyncing, state.StateSteady}, seen)
	mu.Unlock()

	// nothing is due before the recheck interval
	assert.Zero(t, h.runOnce(t).Claimed)
}

func TestRunOnce_ConcurrentCoordinatorsClaimOnce(t *testing.T) {
	t.Parallel()

	const hardwareCount = 20

	var mu sync.Mutex
	processed := map[uuid.UUID]int{}
	release := make(chan struct{})

	ctrl := gomock.NewController(t)
	w := newMockWorker(ctrl, "alpha", func(ctx context.Context, hw *hardware.Hardware, _ *state.WorkerState) (worker.Result, error) {
		mu.Lock()
		processed[hw.ID]++
		mu.Unlock()
		select {
		case <-release:
		case <-ctx.Done():
			return worker.Result{}, ctx.Err()
		}
		return worker.Success(nil), nil
	})

	h := newHarness(t, hardwareCount, 5*time.Second, w)
	ids := make([]uuid.UUID, 0, hardwareCount)
	for range hardwareCount {
		ids = append(ids, h.enroll(t).ID)
	}

	// both processes share the hardware store and the worker state service
	coordinators := make([]Coordinator, 2)
	for i := range coordinators {
		exec := executor.New(hardwareCount, 5*time.Second)
		t.Cleanup(func() { _ = exec.Stop(context.Background()) })
		coordinators[i] = New(h.hardware, h.states, h.types, exec, fmt.Sprintf("proc-%d", i),
			WithRemovedRetention(time.Hour))
	}

	start := make(chan struct{})
	summaries := make([]Summary, len(coordinators))
	var wg sync.WaitGroup
	for i, c := range coordinators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, err := c.RunOnce(context.Background())
			assert.NoError(t, err)
			summaries[i] = s
		}()
	}
	close(start)
	wg.Wait()
	close(release)

	claimed := 0
	for _, s := range summaries {
		claimed += s.Claimed
		assert.Equal(t, s.Claimed, s.Submitted)
	}
	assert.Equal(t, hardwareCount, claimed)

	for _, id := range ids {
		h.waitFor(t, id, "alpha", state.StateSteady)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, processed, hardwareCount)
	for id, n := range processed {
		assert.Equal(t, 1, n, "hardware %s processed more than once", id)
	}
}
