package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WorkersConfig enables workers and carries their backend settings
type WorkersConfig struct {
	// Enabled lists the worker names to instantiate. Empty enables every
	// built-in worker whose backend is configured, plus fake.
	Enabled []string `yaml:"enabled,omitempty"`

	Ironic *IronicConfig `yaml:"ironic,omitempty"`
	Blazar *BlazarConfig `yaml:"blazar,omitempty"`
	Balena *BalenaConfig `yaml:"balena,omitempty"`
	K8s    *K8sConfig    `yaml:"k8s,omitempty"`
	Tunelo *TuneloConfig `yaml:"tunelo,omitempty"`
}

// EndpointConfig defines how to reach a REST backend
type EndpointConfig struct {
	// Endpoint is the base URL of the service
	Endpoint string `yaml:"endpoint"`

	// Token authenticates requests. TokenFile takes precedence when set.
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Timeout bounds each request (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// IronicConfig defines the bare metal provisioning backend
type IronicConfig struct {
	EndpointConfig `yaml:",inline"`

	// APIVersion is sent as the Ironic microversion header
	APIVersion string `yaml:"apiVersion,omitempty"`

	// ProvisionTimeout bounds the wait for one provision state change. It must
	// stay below reconciler.invocationTimeout.
	ProvisionTimeout string `yaml:"provisionTimeout,omitempty"`

	// PollInterval is the delay between node reads while waiting
	PollInterval string `yaml:"pollInterval,omitempty"`
}

// BlazarConfig defines the reservation backend
type BlazarConfig struct {
	EndpointConfig `yaml:",inline"`
}

// BalenaConfig defines the device fleet backend
type BalenaConfig struct {
	EndpointConfig `yaml:",inline"`

	// DeviceFleetMapping maps a machine name to the fleet devices join
	DeviceFleetMapping map[string]string `yaml:"deviceFleetMapping,omitempty"`

	// CredentialServiceName is the fleet service receiving application credentials
	CredentialServiceName string `yaml:"credentialServiceName,omitempty"`
}

// K8sConfig defines the edge cluster backend
type K8sConfig struct {
	// Kubeconfig is the path of the kubeconfig file. Empty uses in-cluster config.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`

	// ExpectedLabels maps a machine name to "key=value|key2=value2" label sets
	ExpectedLabels map[string]string `yaml:"expectedLabels,omitempty"`
}

// TuneloConfig defines the tunnel channel backend
type TuneloConfig struct {
	EndpointConfig `yaml:",inline"`
}

// GetToken returns the backend token, reading TokenFile if set
func (e *EndpointConfig) GetToken() (string, error) {
	if e.TokenFile == "" {
		return e.Token, nil
	}
	data, err := os.ReadFile(filepath.Clean(e.TokenFile))
	if err != nil {
		return "", fmt.Errorf("failed to read token from file %s: %w", e.TokenFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetTimeout returns the request timeout, zero meaning the client default
func (e *EndpointConfig) GetTimeout() time.Duration {
	return durationOr(e.Timeout, 0)
}

func (e *EndpointConfig) validate(prefix string) error {
	if e.Endpoint == "" {
		return fmt.Errorf("%s: endpoint is required", prefix)
	}
	return validateDuration(prefix+".timeout", e.Timeout)
}

// GetAPIVersion returns the Ironic microversion
func (i *IronicConfig) GetAPIVersion() string {
	if i.APIVersion == "" {
		return "1.51"
	}
	return i.APIVersion
}

// GetProvisionTimeout returns the provision state wait bound
func (i *IronicConfig) GetProvisionTimeout() time.Duration {
	return durationOr(i.ProvisionTimeout, defaultProvisionTimeout)
}

// GetPollInterval returns the provision state poll interval
func (i *IronicConfig) GetPollInterval() time.Duration {
	return durationOr(i.PollInterval, defaultPollInterval)
}

func (i *IronicConfig) validate(prefix string) error {
	if err := i.EndpointConfig.validate(prefix); err != nil {
		return err
	}
	if err := validateDuration(prefix+".provisionTimeout", i.ProvisionTimeout); err != nil {
		return err
	}
	return validateDuration(prefix+".pollInterval", i.PollInterval)
}

// GetCredentialServiceName returns the fleet service name for credentials
func (b *BalenaConfig) GetCredentialServiceName() string {
	if b.CredentialServiceName == "" {
		return "coordinator"
	}
	return b.CredentialServiceName
}

func (w *WorkersConfig) validate() error {
	seen := make(map[string]bool, len(w.Enabled))
	for i, name := range w.Enabled {
		if name == "" {
			return fmt.Errorf("workers.enabled[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("workers.enabled[%d]: duplicate worker name '%s'", i, name)
		}
		seen[name] = true
	}

	if w.Ironic != nil {
		if err := w.Ironic.validate("workers.ironic"); err != nil {
			return err
		}
	}
	if w.Blazar != nil {
		if err := w.Blazar.validate("workers.blazar"); err != nil {
			return err
		}
	}
	if w.Balena != nil {
		if err := w.Balena.validate("workers.balena"); err != nil {
			return err
		}
	}
	if w.Tunelo != nil {
		if err := w.Tunelo.validate("workers.tunelo"); err != nil {
			return err
		}
	}
	if w.K8s != nil {
		for machine, labels := range w.K8s.ExpectedLabels {
			if _, err := ParseLabels(labels); err != nil {
				return fmt.Errorf("workers.k8s.expectedLabels[%s]: %w", machine, err)
			}
		}
	}
	return nil
}

// ParseLabels parses a "key=value|key2=value2" label set
func ParseLabels(s string) (map[string]string, error) {
	labels := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return labels, nil
	}
	for _, pair := range strings.Split(s, "|") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid label %q, expected key=value", pair)
		}
		labels[key] = strings.TrimSpace(value)
	}
	return labels, nil
}
