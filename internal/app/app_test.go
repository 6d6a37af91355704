package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chameleoncloud/doni/internal/app/storage"
	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/events"
	"github.com/chameleoncloud/doni/internal/executor"
	"github.com/chameleoncloud/doni/internal/reconcile"
	"github.com/chameleoncloud/doni/internal/service/mocks"
	"github.com/chameleoncloud/doni/internal/state"
)

// recordingEmitter keeps every event it receives
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) states() []state.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]state.State, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.NewState)
	}
	return out
}

// fakeCoordinator implements reconcile.Coordinator for testing
type fakeCoordinator struct {
	mu          sync.Mutex
	startCalled bool
	stopCalled  bool
	runOnceErr  error
}

func (f *fakeCoordinator) Start(ctx context.Context) error {
	f.mu.Lock()
	f.startCalled = true
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeCoordinator) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
	return nil
}

func (f *fakeCoordinator) RunOnce(context.Context) (reconcile.Summary, error) {
	return reconcile.Summary{Hardware: 3}, f.runOnceErr
}

func (f *fakeCoordinator) wasStartCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalled
}

func (f *fakeCoordinator) wasStopCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalled
}

// createTestApp builds a DoniApp around a mocked service and a fake coordinator
func createTestApp(t *testing.T, ctrl *gomock.Controller, addr string) (*DoniApp, *fakeCoordinator) {
	t.Helper()

	mockSvc := mocks.NewMockHardwareService(ctrl)
	coord := &fakeCoordinator{}
	cfg := config.Default()

	appCfg, err := baseConfig(WithConfig(cfg), WithAddress(addr))
	require.NoError(t, err)

	server, err := buildHTTPServer(context.Background(), appCfg, mockSvc)
	require.NoError(t, err)

	appCtx, cancel := context.WithCancel(context.Background())
	return &DoniApp{
		config: cfg,
		components: &AppComponents{
			Coordinator:     coord,
			Executor:        executor.New(1, time.Second),
			HardwareService: mockSvc,
			Storage:         storage.NewMemoryFactory(),
		},
		httpServer: server,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, coord
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func TestDoniApp_StartStop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app, coord := createTestApp(t, ctrl, freeAddr(t))

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	url := "http://" + app.GetHTTPServer().Addr + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:gosec,noctx // test URL
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, coord.wasStartCalled, time.Second, 10*time.Millisecond)

	require.NoError(t, app.Stop(5*time.Second))
	assert.True(t, coord.wasStopCalled())

	select {
	case startErr := <-errChan:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestDoniApp_StartAddressInUse(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	ctrl := gomock.NewController(t)
	app, _ := createTestApp(t, ctrl, listener.Addr().String())
	t.Cleanup(func() { app.Close(context.Background()) })

	err = app.Start()
	assert.ErrorContains(t, err, "HTTP server failed")
}

func TestDoniApp_RunOnce(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app, coord := createTestApp(t, ctrl, ":0")
	t.Cleanup(func() { app.Close(context.Background()) })

	summary, err := app.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Hardware)

	coord.runOnceErr = errors.New("inventory unavailable")
	_, err = app.RunOnce(context.Background())
	assert.ErrorContains(t, err, "inventory unavailable")
}

func TestDoniApp_Accessors(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app, _ := createTestApp(t, ctrl, ":0")
	t.Cleanup(func() { app.Close(context.Background()) })

	assert.Same(t, app.config, app.GetConfig())
	assert.NotNil(t, app.GetHTTPServer())
	assert.NotNil(t, app.HardwareService())
}
