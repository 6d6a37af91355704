// Package config provides configuration loading and management for doni.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by doni
const EnvPrefix = "DONI"

const (
	// StorageTypeMemory keeps all state in process memory
	StorageTypeMemory = "memory"

	// StorageTypeBadger keeps state in an embedded Badger database
	StorageTypeBadger = "badger"

	// StorageTypeDatabase keeps state in PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// MetricsExporterPrometheus serves metrics on /metrics
	MetricsExporterPrometheus = "prometheus"

	// MetricsExporterOTLP pushes metrics to an OTLP HTTP collector
	MetricsExporterOTLP = "otlp"
)

const (
	defaultWorkerPoolSize    = 16
	defaultCycleInterval     = time.Minute
	defaultCycleJitter       = 0.1
	defaultInvocationTimeout = 2 * time.Minute
	defaultLeaseTimeout      = 5 * time.Minute
	defaultRecheckInterval   = 10 * time.Minute
	defaultRemovedRetention  = 24 * time.Hour

	defaultInitialBackoff = 10 * time.Second
	defaultMaxBackoff     = 30 * time.Minute
	defaultMultiplier     = 2.0
	defaultRandomization  = 0.2

	defaultProvisionTimeout = 45 * time.Second
	defaultPollInterval     = 5 * time.Second

	defaultServerAddress = ":8001"
	defaultAdminHeader   = "X-Doni-Admin"
	defaultSubjectPrefix = "doni.worker"

	defaultServiceName   = "doni"
	defaultTraceSampling = 0.05
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Reconciler    ReconcilerConfig `yaml:"reconciler"`
	Backoff       BackoffConfig    `yaml:"backoff"`
	Storage       StorageConfig    `yaml:"storage"`
	Database      *DatabaseConfig  `yaml:"database,omitempty"`
	Events        EventsConfig     `yaml:"events"`
	Telemetry     TelemetryConfig  `yaml:"telemetry"`
	Server        ServerConfig     `yaml:"server"`
	HardwareTypes []string         `yaml:"hardwareTypes,omitempty"`
	Workers       WorkersConfig    `yaml:"workers"`
}

// ReconcilerConfig controls the scheduler loop and the task executor
type ReconcilerConfig struct {
	// ProcessName identifies this process as claim owner. Defaults to the hostname.
	ProcessName string `yaml:"processName,omitempty"`

	// WorkerPoolSize caps concurrent worker invocations
	WorkerPoolSize int `yaml:"workerPoolSize,omitempty"`

	// CycleInterval is the period of the scheduler loop (e.g., "1m")
	CycleInterval string `yaml:"cycleInterval,omitempty"`

	// CycleJitter is the fraction of CycleInterval randomly added or removed
	CycleJitter *float64 `yaml:"cycleJitter,omitempty"`

	// InvocationTimeout bounds a single worker invocation
	InvocationTimeout string `yaml:"invocationTimeout,omitempty"`

	// LeaseTimeout bounds a claim; it must exceed InvocationTimeout
	LeaseTimeout string `yaml:"leaseTimeout,omitempty"`

	// RecheckInterval is how long STEADY records rest before being processed again
	RecheckInterval string `yaml:"recheckInterval,omitempty"`

	// RemovedRetention is how long REMOVED records are kept before purge
	RemovedRetention string `yaml:"removedRetention,omitempty"`
}

// BackoffConfig defines the retry backoff applied to RETRYING records
type BackoffConfig struct {
	InitialInterval     string   `yaml:"initialInterval,omitempty"`
	MaxInterval         string   `yaml:"maxInterval,omitempty"`
	Multiplier          float64  `yaml:"multiplier,omitempty"`
	RandomizationFactor *float64 `yaml:"randomizationFactor,omitempty"`
}

// StorageConfig selects the state backend
type StorageConfig struct {
	// Type is one of memory, badger or database. Defaults to memory.
	Type   string        `yaml:"type,omitempty"`
	Badger *BadgerConfig `yaml:"badger,omitempty"`
}

// BadgerConfig defines embedded Badger settings
type BadgerConfig struct {
	// Path is the data directory
	Path string `yaml:"path"`
}

// EventsConfig defines where transition events are published
type EventsConfig struct {
	// Log writes every transition to the structured log
	Log  bool        `yaml:"log,omitempty"`
	NATS *NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig defines the NATS event sink
type NATSConfig struct {
	URL string `yaml:"url"`

	// SubjectPrefix defaults to "doni.worker"
	SubjectPrefix string `yaml:"subjectPrefix,omitempty"`
}

// TelemetryConfig defines metrics and trace export
type TelemetryConfig struct {
	// ServiceName identifies this process in exported telemetry.
	// Defaults to "doni"
	ServiceName string `yaml:"serviceName,omitempty"`

	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig defines OTLP trace export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the exporter
	Insecure bool `yaml:"insecure,omitempty"`

	// Sampling is the ratio of traces kept, 0.0 to 1.0. Defaults to 0.05
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines the metrics exporter
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is prometheus or otlp. Defaults to prometheus.
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP collector host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the OTLP exporter
	Insecure bool `yaml:"insecure,omitempty"`
}

// ServerConfig defines the REST API listener
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`

	// AdminHeader names the request header that marks a caller as admin.
	// Admins see private fields.
	AdminHeader string `yaml:"adminHeader,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a valid configuration with every default applied and the
// in-memory storage backend.
func Default() *Config {
	return &Config{}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Reconciler.validate(); err != nil {
		return err
	}
	if err := c.Backoff.validate(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Events.NATS != nil && c.Events.NATS.URL == "" {
		return fmt.Errorf("events.nats: url is required")
	}
	if err := c.Telemetry.Tracing.validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Metrics.validate(); err != nil {
		return err
	}
	if err := c.Workers.validate(); err != nil {
		return err
	}
	if ic := c.Workers.Ironic; ic != nil && ic.GetProvisionTimeout() >= c.Reconciler.GetInvocationTimeout() {
		return fmt.Errorf("workers.ironic: provisionTimeout (%s) must be below reconciler.invocationTimeout (%s)",
			ic.GetProvisionTimeout(), c.Reconciler.GetInvocationTimeout())
	}
	return nil
}

func (r *ReconcilerConfig) validate() error {
	if r.WorkerPoolSize < 0 {
		return fmt.Errorf("reconciler: workerPoolSize must not be negative")
	}
	if r.CycleJitter != nil && (*r.CycleJitter < 0 || *r.CycleJitter >= 1) {
		return fmt.Errorf("reconciler: cycleJitter must be in [0, 1)")
	}
	fields := []struct {
		name  string
		value string
	}{
		{"cycleInterval", r.CycleInterval},
		{"invocationTimeout", r.InvocationTimeout},
		{"leaseTimeout", r.LeaseTimeout},
		{"recheckInterval", r.RecheckInterval},
		{"removedRetention", r.RemovedRetention},
	}
	for _, f := range fields {
		if err := validateDuration("reconciler."+f.name, f.value); err != nil {
			return err
		}
	}
	if r.GetLeaseTimeout() <= r.GetInvocationTimeout() {
		return fmt.Errorf("reconciler: leaseTimeout (%s) must exceed invocationTimeout (%s)",
			r.GetLeaseTimeout(), r.GetInvocationTimeout())
	}
	return nil
}

func (b *BackoffConfig) validate() error {
	if err := validateDuration("backoff.initialInterval", b.InitialInterval); err != nil {
		return err
	}
	if err := validateDuration("backoff.maxInterval", b.MaxInterval); err != nil {
		return err
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier must be at least 1")
	}
	if b.RandomizationFactor != nil && (*b.RandomizationFactor < 0 || *b.RandomizationFactor >= 1) {
		return fmt.Errorf("backoff: randomizationFactor must be in [0, 1)")
	}
	if b.GetMaxInterval() < b.GetInitialInterval() {
		return fmt.Errorf("backoff: maxInterval must not be below initialInterval")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.GetStorageType() {
	case StorageTypeMemory:
		return nil
	case StorageTypeBadger:
		if c.Storage.Badger == nil || c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage: badger.path is required when type is %s", StorageTypeBadger)
		}
		return nil
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("storage: database configuration is required when type is %s", StorageTypeDatabase)
		}
		return c.Database.validate()
	default:
		return fmt.Errorf("storage: unsupported type %q (must be %s, %s or %s)",
			c.Storage.Type, StorageTypeMemory, StorageTypeBadger, StorageTypeDatabase)
	}
}

func (t *TracingConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("telemetry.tracing: endpoint is required")
	}
	if t.Sampling != nil && (*t.Sampling < 0 || *t.Sampling > 1) {
		return fmt.Errorf("telemetry.tracing: sampling must be between 0 and 1")
	}
	return nil
}

func (m *MetricsConfig) validate() error {
	if !m.Enabled {
		return nil
	}
	switch m.GetExporter() {
	case MetricsExporterPrometheus:
		return nil
	case MetricsExporterOTLP:
		if m.Endpoint == "" {
			return fmt.Errorf("telemetry.metrics: endpoint is required for the %s exporter", MetricsExporterOTLP)
		}
		return nil
	default:
		return fmt.Errorf("telemetry.metrics: unsupported exporter %q", m.Exporter)
	}
}

func validateDuration(name, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// durationOr parses value, falling back to def when it is empty or invalid.
// Values are checked by validate before use.
func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// GetStorageType returns the storage type, using memory if not specified
func (c *Config) GetStorageType() string {
	if c.Storage.Type == "" {
		return StorageTypeMemory
	}
	return c.Storage.Type
}

// GetProcessName returns the claim owner name, falling back to the hostname
func (r *ReconcilerConfig) GetProcessName() string {
	if r.ProcessName != "" {
		return r.ProcessName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "doni"
}

// GetWorkerPoolSize returns the executor size
func (r *ReconcilerConfig) GetWorkerPoolSize() int {
	if r.WorkerPoolSize == 0 {
		return defaultWorkerPoolSize
	}
	return r.WorkerPoolSize
}

// GetCycleInterval returns the scheduler period
func (r *ReconcilerConfig) GetCycleInterval() time.Duration {
	return durationOr(r.CycleInterval, defaultCycleInterval)
}

// GetCycleJitter returns the scheduler jitter fraction
func (r *ReconcilerConfig) GetCycleJitter() float64 {
	if r.CycleJitter == nil {
		return defaultCycleJitter
	}
	return *r.CycleJitter
}

// GetInvocationTimeout returns the per-invocation timeout
func (r *ReconcilerConfig) GetInvocationTimeout() time.Duration {
	return durationOr(r.InvocationTimeout, defaultInvocationTimeout)
}

// GetLeaseTimeout returns the claim lease
func (r *ReconcilerConfig) GetLeaseTimeout() time.Duration {
	return durationOr(r.LeaseTimeout, defaultLeaseTimeout)
}

// GetRecheckInterval returns the STEADY recheck interval
func (r *ReconcilerConfig) GetRecheckInterval() time.Duration {
	return durationOr(r.RecheckInterval, defaultRecheckInterval)
}

// GetRemovedRetention returns how long REMOVED records are kept
func (r *ReconcilerConfig) GetRemovedRetention() time.Duration {
	return durationOr(r.RemovedRetention, defaultRemovedRetention)
}

// GetInitialInterval returns the first retry delay
func (b *BackoffConfig) GetInitialInterval() time.Duration {
	return durationOr(b.InitialInterval, defaultInitialBackoff)
}

// GetMaxInterval returns the retry delay cap
func (b *BackoffConfig) GetMaxInterval() time.Duration {
	return durationOr(b.MaxInterval, defaultMaxBackoff)
}

// GetMultiplier returns the exponential growth factor
func (b *BackoffConfig) GetMultiplier() float64 {
	if b.Multiplier == 0 {
		return defaultMultiplier
	}
	return b.Multiplier
}

// GetRandomizationFactor returns the jitter fraction
func (b *BackoffConfig) GetRandomizationFactor() float64 {
	if b.RandomizationFactor == nil {
		return defaultRandomization
	}
	return *b.RandomizationFactor
}

// GetSubjectPrefix returns the NATS subject prefix
func (n *NATSConfig) GetSubjectPrefix() string {
	if n.SubjectPrefix == "" {
		return defaultSubjectPrefix
	}
	return n.SubjectPrefix
}

// GetServiceName returns the telemetry service name, using "doni" if not specified
func (t *TelemetryConfig) GetServiceName() string {
	if t.ServiceName == "" {
		return defaultServiceName
	}
	return t.ServiceName
}

// GetSampling returns the trace sampling ratio
func (t *TracingConfig) GetSampling() float64 {
	if t.Sampling == nil {
		return defaultTraceSampling
	}
	return *t.Sampling
}

// GetExporter returns the metrics exporter, using prometheus if not specified
func (m *MetricsConfig) GetExporter() string {
	if m.Exporter == "" {
		return MetricsExporterPrometheus
	}
	return m.Exporter
}

// GetAddress returns the API listen address
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return defaultServerAddress
	}
	return s.Address
}

// GetAdminHeader returns the admin marker header name
func (s *ServerConfig) GetAdminHeader() string {
	if s.AdminHeader == "" {
		return defaultAdminHeader
	}
	return s.AdminHeader
}
