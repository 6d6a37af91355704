// Package builtin registers the workers shipped with doni.
package builtin

import (
	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/internal/worker/balena"
	"github.com/chameleoncloud/doni/internal/worker/blazar"
	"github.com/chameleoncloud/doni/internal/worker/fake"
	"github.com/chameleoncloud/doni/internal/worker/ironic"
	"github.com/chameleoncloud/doni/internal/worker/k8s"
	"github.com/chameleoncloud/doni/internal/worker/tunelo"
)

// Factories lists every built-in worker factory by name.
func Factories() map[string]worker.Factory {
	return map[string]worker.Factory{
		balena.Name:             balena.Factory,
		blazar.PhysicalHostName: blazar.PhysicalHostFactory,
		blazar.DeviceName:       blazar.DeviceFactory,
		fake.Name:               fake.Factory,
		ironic.Name:             ironic.Factory,
		k8s.Name:                k8s.Factory,
		tunelo.Name:             tunelo.Factory,
	}
}

// NewRegistry returns a registry holding all built-in workers.
func NewRegistry() *worker.Registry {
	r := worker.NewRegistry()
	for name, factory := range Factories() {
		// Names are unique map keys, so Register cannot fail.
		_ = r.Register(name, factory)
	}
	return r
}

// EnabledNames returns the workers to build for cfg. An explicit list wins;
// otherwise fake is enabled along with every worker whose backend is configured.
func EnabledNames(cfg *config.Config) []string {
	if len(cfg.Workers.Enabled) > 0 {
		return cfg.Workers.Enabled
	}

	names := []string{fake.Name}
	w := cfg.Workers
	if w.Ironic != nil {
		names = append(names, ironic.Name)
	}
	if w.Blazar != nil {
		names = append(names, blazar.PhysicalHostName, blazar.DeviceName)
	}
	if w.Balena != nil {
		names = append(names, balena.Name)
	}
	if w.K8s != nil {
		names = append(names, k8s.Name)
	}
	if w.Tunelo != nil {
		names = append(names, tunelo.Name)
	}
	return names
}
