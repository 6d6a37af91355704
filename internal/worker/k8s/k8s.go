// Package k8s implements the worker that prepares an edge Kubernetes cluster
// for a device: it ensures a bootstrap token secret the device joins with and
// keeps the labels of the device's node in sync.
package k8s

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

const (
	// Name is the worker type.
	Name = "k8s"

	// DetailBootstrapToken holds the token the device joins the cluster with.
	DetailBootstrapToken = "k8s_bootstrap_token"

	// LocalEgressLabel is set to "deny" on nodes that must not reach the local network.
	LocalEgressLabel = "chi.edge/local_egress"

	tokenNamespace  = metav1.NamespaceSystem
	tokenSecretType = corev1.SecretType("bootstrap.kubernetes.io/token")
	tokenTTL        = 7 * 24 * time.Hour

	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Worker syncs hardware to an edge Kubernetes cluster.
type Worker struct {
	client         client.Client
	expectedLabels map[string]string
	now            func() time.Time
}

// New creates a worker. expectedLabels maps a device type to a
// "key=value|key2=value2" label set.
func New(c client.Client, expectedLabels map[string]string) *Worker {
	return &Worker{
		client:         c,
		expectedLabels: expectedLabels,
		now:            time.Now,
	}
}

// Factory builds the worker from the k8s configuration section.
func Factory(cfg *config.Config) (worker.Worker, error) {
	kc := cfg.Workers.K8s
	if kc == nil {
		return nil, fmt.Errorf("%s: workers.k8s is not configured", Name)
	}
	ctrllog.SetLogger(logr.FromSlogHandler(slog.Default().Handler()).WithName(Name))

	restCfg, err := restConfig(kc.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("%s: failed to build scheme: %w", Name, err)
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create client: %w", Name, err)
	}
	return New(c, kc.ExpectedLabels), nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// Name implements worker.Worker.
func (*Worker) Name() string {
	return Name
}

// SensitiveDetails implements worker.DetailMasker.
func (*Worker) SensitiveDetails() []string {
	return []string{DetailBootstrapToken}
}

// Fields implements worker.Worker.
func (*Worker) Fields() []worker.Field {
	return []worker.Field{
		{
			Name:        "local_egress",
			Schema:      worker.EnumSchema("allow", "deny"),
			Description: "Whether workloads on the device may reach its local network.",
		},
	}
}

// AppliesTo implements worker.Worker.
func (*Worker) AppliesTo(*hardware.Hardware) bool {
	return true
}

// Process implements worker.Worker.
func (w *Worker) Process(ctx context.Context, hw *hardware.Hardware, current *state.WorkerState) (worker.Result, error) {
	details := map[string]any{}

	token, _ := detail(current, DetailBootstrapToken)
	id, secret, ok := splitToken(token)
	if !ok {
		token = generateToken()
		id, secret, _ = splitToken(token)
		details[DetailBootstrapToken] = token
		slog.InfoContext(ctx, "Issued bootstrap token", "hardware_id", hw.ID, "token_id", id)
	}

	created, err := w.ensureTokenSecret(ctx, id, secret)
	if err != nil {
		return worker.Result{}, classify(err)
	}
	details["created_token_secrets"] = created

	labels, err := w.labels(hw)
	if err != nil {
		return worker.Result{}, err
	}
	if len(labels) > 0 {
		patch, err := json.Marshal(map[string]any{"metadata": map[string]any{"labels": labels}})
		if err != nil {
			return worker.Result{}, worker.Terminal(err)
		}
		node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: hw.Name}}
		if err := w.client.Patch(ctx, node, client.RawPatch(types.MergePatchType, patch)); err != nil {
			if apierrors.IsNotFound(err) {
				return worker.Retry("No matching k8s node found", details), nil
			}
			return worker.Result{}, classify(err)
		}
	}
	details["num_labels"] = len(labels)
	return worker.Success(details), nil
}

// ensureTokenSecret creates the bootstrap token secret unless it exists and
// reports how many secrets it created.
func (w *Worker) ensureTokenSecret(ctx context.Context, id, secret string) (int, error) {
	name := "bootstrap-token-" + id
	var existing corev1.Secret
	err := w.client.Get(ctx, client.ObjectKey{Namespace: tokenNamespace, Name: name}, &existing)
	if err == nil {
		return 0, nil
	}
	if !apierrors.IsNotFound(err) {
		return 0, err
	}

	s := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: tokenNamespace},
		Type:       tokenSecretType,
		Data: map[string][]byte{
			"description":                    []byte("Bootstrap token generated by doni k8s worker"),
			"token-id":                       []byte(id),
			"token-secret":                   []byte(secret),
			"expiration":                     []byte(w.now().UTC().Add(tokenTTL).Format(time.RFC3339)),
			"usage-bootstrap-signing":        []byte("true"),
			"usage-bootstrap-authentication": []byte("true"),
		},
	}
	if err := w.client.Create(ctx, s); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return 0, nil
		}
		return 0, err
	}
	slog.InfoContext(ctx, "Created bootstrap token secret", "secret", name)
	return 1, nil
}

func (w *Worker) labels(hw *hardware.Hardware) (map[string]string, error) {
	deviceType := hw.StringProperty("device_type")
	if deviceType == "" {
		return nil, worker.Terminalf("missing device_type on hardware %s", hw.ID)
	}
	labels, err := config.ParseLabels(w.expectedLabels[deviceType])
	if err != nil {
		return nil, worker.Terminal(err)
	}
	if hw.StringProperty("local_egress") == "deny" {
		labels[LocalEgressLabel] = "deny"
	}
	return labels, nil
}

// classify marks API server availability problems as transient.
func classify(err error) error {
	switch {
	case apierrors.IsServerTimeout(err), apierrors.IsTimeout(err), apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err), apierrors.IsInternalError(err), apierrors.IsUnexpectedServerError(err):
		return worker.Transient(err)
	case apierrors.ReasonForError(err) != metav1.StatusReasonUnknown:
		return worker.Terminal(err)
	default:
		return worker.Classify(err)
	}
}

func detail(ws *state.WorkerState, key string) (string, bool) {
	if ws == nil {
		return "", false
	}
	s, ok := ws.Details[key].(string)
	return s, ok
}

// generateToken returns a bootstrap token of the form [a-z0-9]{6}.[a-z0-9]{16}.
func generateToken() string {
	return randomString(6) + "." + randomString(16)
}

func randomString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = tokenAlphabet[int(b[i])%len(tokenAlphabet)]
	}
	return string(b)
}

func splitToken(token string) (id, secret string, ok bool) {
	if len(token) != 23 || token[6] != '.' {
		return "", "", false
	}
	return token[:6], token[7:], true
}
