package k8s

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newDevice(props map[string]any) *hardware.Hardware {
	return &hardware.Hardware{
		ID:         uuid.New(),
		Name:       "rpi-lab-1",
		Type:       "device.balena",
		Properties: props,
	}
}

func newWorker(c client.Client) *Worker {
	w := New(c, map[string]string{"raspberrypi4-64": "node-role.kubernetes.io/edge=true|chi.edge/arch=arm64"})
	w.now = func() time.Time { return testNow }
	return w
}

func TestProcess(t *testing.T) {
	t.Parallel()

	node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "rpi-lab-1", Labels: map[string]string{"existing": "kept"}}}
	c := fake.NewClientBuilder().WithObjects(node).Build()
	w := newWorker(c)
	hw := newDevice(map[string]any{"device_type": "raspberrypi4-64", "local_egress": "deny"})

	res, err := w.Process(context.Background(), hw, &state.WorkerState{})
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Details["created_token_secrets"])
	assert.Equal(t, 3, res.Details["num_labels"])

	token, ok := res.Details[DetailBootstrapToken].(string)
	require.True(t, ok)
	id, secret, ok := splitToken(token)
	require.True(t, ok)

	var s corev1.Secret
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: "kube-system", Name: "bootstrap-token-" + id}, &s))
	assert.Equal(t, corev1.SecretType("bootstrap.kubernetes.io/token"), s.Type)
	assert.Equal(t, secret, string(s.Data["token-secret"]))
	assert.Equal(t, "2026-05-11T10:00:00Z", string(s.Data["expiration"]))

	var got corev1.Node
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Name: "rpi-lab-1"}, &got))
	assert.Equal(t, map[string]string{
		"existing":                     "kept",
		"node-role.kubernetes.io/edge": "true",
		"chi.edge/arch":                "arm64",
		LocalEgressLabel:               "deny",
	}, got.Labels)

	// The stored token is reused and its secret is not recreated.
	res, err = w.Process(context.Background(), hw, &state.WorkerState{
		Details: map[string]any{DetailBootstrapToken: token},
	})
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, res.Details["created_token_secrets"])
	assert.NotContains(t, res.Details, DetailBootstrapToken)
}

func TestProcess_NodeMissing(t *testing.T) {
	t.Parallel()

	w := newWorker(fake.NewClientBuilder().Build())
	res, err := w.Process(context.Background(), newDevice(map[string]any{"device_type": "raspberrypi4-64"}), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeRetry, res.Outcome)
	assert.Equal(t, "No matching k8s node found", res.Reason)
	// The issued token must survive the retry.
	assert.Contains(t, res.Details, DetailBootstrapToken)
}

func TestProcess_NoLabels(t *testing.T) {
	t.Parallel()

	w := newWorker(fake.NewClientBuilder().Build())
	res, err := w.Process(context.Background(), newDevice(map[string]any{"device_type": "jetson-nano"}), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, res.Details["num_labels"])
}

func TestProcess_MissingDeviceType(t *testing.T) {
	t.Parallel()

	w := newWorker(fake.NewClientBuilder().Build())
	_, err := w.Process(context.Background(), newDevice(map[string]any{}), nil)
	kind, ok := worker.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, worker.KindTerminal, kind)
}

func TestProcess_APIErrors(t *testing.T) {
	t.Parallel()

	gr := schema.GroupResource{Resource: "secrets"}
	tests := []struct {
		name     string
		err      error
		wantKind worker.Kind
	}{
		{name: "unavailable", err: apierrors.NewServiceUnavailable("down"), wantKind: worker.KindTransient},
		{name: "throttled", err: apierrors.NewTooManyRequests("slow down", 1), wantKind: worker.KindTransient},
		{name: "forbidden", err: apierrors.NewForbidden(gr, "x", errors.New("rbac")), wantKind: worker.KindTerminal},
		{name: "transport", err: errors.New("connection refused"), wantKind: worker.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := fake.NewClientBuilder().WithInterceptorFuncs(interceptor.Funcs{
				Get: func(context.Context, client.WithWatch, client.ObjectKey, client.Object, ...client.GetOption) error {
					return tt.err
				},
			}).Build()
			_, err := newWorker(c).Process(context.Background(), newDevice(map[string]any{"device_type": "raspberrypi4-64"}), nil)
			kind, ok := worker.KindOf(err)
			require.True(t, ok, "unclassified error %v", err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	token := generateToken()
	assert.Regexp(t, `^[a-z0-9]{6}\.[a-z0-9]{16}$`, token)
	assert.NotEqual(t, token, generateToken())

	_, _, ok := splitToken("abc.def")
	assert.False(t, ok)
}

func TestFactory_NotConfigured(t *testing.T) {
	t.Parallel()

	_, err := Factory(config.Default())
	assert.Error(t, err)
}
