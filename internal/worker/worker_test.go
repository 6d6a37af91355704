package worker_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/httpclient"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/internal/worker/mocks"
)

func TestCompletion(t *testing.T) {
	t.Parallel()

	lease := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	tests := []struct {
		name        string
		res         worker.Result
		err         error
		timedOut    bool
		wantOutcome state.Outcome
		check       func(t *testing.T, c state.Completion)
	}{
		{
			name:        "success passes details",
			res:         worker.Success(map[string]any{"created_at": "now"}),
			wantOutcome: state.OutcomeSuccess,
			check: func(t *testing.T, c state.Completion) {
				t.Helper()
				assert.Equal(t, "now", c.Details["created_at"])
			},
		},
		{
			name:        "steady",
			res:         worker.Steady(),
			wantOutcome: state.OutcomeSteady,
		},
		{
			name:        "retry keeps hint and reason",
			res:         worker.Retry("locked", nil).After(time.Minute),
			wantOutcome: state.OutcomeRetry,
			check: func(t *testing.T, c state.Completion) {
				t.Helper()
				assert.Equal(t, "locked", c.Reason)
				assert.Equal(t, time.Minute, c.RetryAfter)
			},
		},
		{
			name:        "failed result",
			res:         worker.Failed("unsupported driver"),
			wantOutcome: state.OutcomeFailed,
		},
		{
			name:        "timeout retries after lease",
			err:         errors.New("context deadline exceeded"),
			timedOut:    true,
			wantOutcome: state.OutcomeRetry,
			check: func(t *testing.T, c state.Completion) {
				t.Helper()
				assert.Equal(t, lease, c.NotBefore)
			},
		},
		{
			name:        "transient error retries",
			err:         worker.Transientf("backend down"),
			wantOutcome: state.OutcomeRetry,
		},
		{
			name:        "terminal error fails",
			err:         worker.Terminalf("rejected"),
			wantOutcome: state.OutcomeFailed,
		},
		{
			name:        "unclassified error fails",
			err:         errors.New("nil pointer"),
			wantOutcome: state.OutcomeFailed,
		},
		{
			name:        "cancellation retries",
			err:         fmt.Errorf("GET /v1/nodes: %w", context.Canceled),
			wantOutcome: state.OutcomeRetry,
		},
		{
			name:        "empty result fails",
			wantOutcome: state.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := worker.Completion(tt.res, tt.err, tt.timedOut, lease)
			assert.Equal(t, tt.wantOutcome, c.Outcome)
			if tt.err != nil {
				assert.Equal(t, tt.err, c.Err)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	apiErr := func(code int) error {
		return fmt.Errorf("get node: %w", httpclient.NewAPIError(code, http.MethodGet, "http://ironic", ""))
	}

	tests := []struct {
		name string
		err  error
		want worker.Kind
	}{
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: worker.KindTransient},
		{name: "503", err: apiErr(http.StatusServiceUnavailable), want: worker.KindTransient},
		{name: "429", err: apiErr(http.StatusTooManyRequests), want: worker.KindTransient},
		{name: "400", err: apiErr(http.StatusBadRequest), want: worker.KindTerminal},
		{name: "already classified", err: worker.Transientf("x"), want: worker.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, ok := worker.KindOf(worker.Classify(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
			assert.ErrorIs(t, worker.Classify(tt.err), tt.err)
		})
	}

	assert.NoError(t, worker.Classify(nil))
	assert.NoError(t, worker.Transient(nil))
	assert.NoError(t, worker.Terminal(nil))
	_, ok := worker.KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, "transient", worker.KindTransient.String())
	assert.Equal(t, "terminal", worker.KindTerminal.String())
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fake := mocks.NewMockWorker(ctrl)
	fake.EXPECT().Name().Return("fake").AnyTimes()

	reg := worker.NewRegistry()
	require.NoError(t, reg.Register("fake", func(*config.Config) (worker.Worker, error) { return fake, nil }))
	require.NoError(t, reg.Register("broken", func(*config.Config) (worker.Worker, error) {
		return nil, errors.New("no endpoint")
	}))
	assert.Error(t, reg.Register("fake", func(*config.Config) (worker.Worker, error) { return fake, nil }))
	assert.Error(t, reg.Register("", nil))
	assert.Error(t, reg.Register("nil-factory", nil))
	assert.Equal(t, []string{"broken", "fake"}, reg.Names())

	set, err := reg.Build(config.Default(), []string{"fake", "fake"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fake"}, set.Names())
	got, ok := set.Get("fake")
	require.True(t, ok)
	assert.Same(t, fake, got)
	assert.False(t, set.Has("ironic"))

	_, err = reg.Build(config.Default(), []string{"ironic"})
	assert.ErrorIs(t, err, worker.ErrUnknownWorker)

	_, err = reg.Build(config.Default(), []string{"broken"})
	assert.ErrorContains(t, err, "no endpoint")
}

func TestNewSet(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := mocks.NewMockWorker(ctrl)
	a.EXPECT().Name().Return("a").AnyTimes()
	b := mocks.NewMockWorker(ctrl)
	b.EXPECT().Name().Return("b").AnyTimes()

	set := worker.NewSet(b, a, b)
	assert.Equal(t, []string{"b", "a"}, set.Names())
	assert.True(t, set.Has("a"))
}
