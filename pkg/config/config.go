// Package config loads the process configuration from a YAML file,
// defaulting to config.yaml or the path named by CONFIG_PATH.
package config

import (
	"os"
	"time"

	"github.com/umbrella22/ops-service/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the top-level configuration for both the orchestrator and the
// runner binaries. Each binary reads only the sections it needs.
type Config struct {
	HTTPPort     int                `json:"httpPort" yaml:"httpPort"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Broker       BrokerConfig       `json:"broker" yaml:"broker"`
	Scheduler    SchedulerConfig    `json:"scheduler" yaml:"scheduler"`
	SSH          SSHConfig          `json:"ssh" yaml:"ssh"`
	Build        BuildConfig        `json:"build" yaml:"build"`
	Approval     ApprovalConfig     `json:"approval" yaml:"approval"`
	Middleware   MiddlewareConfig   `json:"middleware" yaml:"middleware"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
}

// OrchestratorConfig tunes the job orchestrator's dispatch capability and
// post-restart recovery sweep.
type OrchestratorConfig struct {
	Capability       string        `json:"capability" yaml:"capability"`
	RecoveryInterval time.Duration `json:"recoveryInterval" yaml:"recoveryInterval"`
}

// DefaultOrchestratorConfig returns sensible orchestrator defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Capability:       "exec",
		RecoveryInterval: 30 * time.Second,
	}
}

// DatabaseConfig describes the Postgres connection used by every facade.
type DatabaseConfig struct {
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}

// BrokerConfig describes the AMQP broker backing the dispatch protocol.
type BrokerConfig struct {
	URL               string        `json:"url" yaml:"url"`
	TasksExchange     string        `json:"tasksExchange" yaml:"tasksExchange"`
	ResultsExchange   string        `json:"resultsExchange" yaml:"resultsExchange"`
	ControlExchange   string        `json:"controlExchange" yaml:"controlExchange"`
	ReconnectInterval time.Duration `json:"reconnectInterval" yaml:"reconnectInterval"`
	PrefetchCount     int           `json:"prefetchCount" yaml:"prefetchCount"`
}

// SchedulerConfig tunes the runner's bounded-concurrency execution loop.
type SchedulerConfig struct {
	MaxConcurrentTasks       int           `json:"maxConcurrentTasks" yaml:"maxConcurrentTasks"`
	ScanInterval             time.Duration `json:"scanInterval" yaml:"scanInterval"`
	LockDuration             time.Duration `json:"lockDuration" yaml:"lockDuration"`
	HeartbeatInterval        time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	StaleLockCleanupInterval time.Duration `json:"staleLockCleanupInterval" yaml:"staleLockCleanupInterval"`
	OldTaskCleanupInterval   time.Duration `json:"oldTaskCleanupInterval" yaml:"oldTaskCleanupInterval"`
	OldTaskRetentionDays     int           `json:"oldTaskRetentionDays" yaml:"oldTaskRetentionDays"`
}

// DefaultSchedulerConfig mirrors the teacher's tuned defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentTasks:       20,
		ScanInterval:             2 * time.Second,
		LockDuration:             30 * time.Second,
		HeartbeatInterval:        10 * time.Second,
		StaleLockCleanupInterval: time.Minute,
		OldTaskCleanupInterval:   time.Hour,
		OldTaskRetentionDays:     30,
	}
}

// SSHConfig holds the three independently armed phase timeouts for the
// execution engine, the output ring size, and the default SSH credential.
type SSHConfig struct {
	ConnectTimeout   time.Duration `json:"connectTimeout" yaml:"connectTimeout"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout" yaml:"handshakeTimeout"`
	CommandTimeout   time.Duration `json:"commandTimeout" yaml:"commandTimeout"`
	OutputRingBytes  int           `json:"outputRingBytes" yaml:"outputRingBytes"`
	DefaultUser      string        `json:"defaultUser" yaml:"defaultUser"`
	DefaultKeyPath   string        `json:"defaultKeyPath" yaml:"defaultKeyPath"`
}

// DefaultSSHConfig returns the execution engine's default phase timeouts.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		CommandTimeout:   15 * time.Minute,
		OutputRingBytes:  64 * 1024,
	}
}

// BuildConfig configures the build executor's workspace and artifact store.
type BuildConfig struct {
	WorkspaceRoot   string      `json:"workspaceRoot" yaml:"workspaceRoot"`
	CloneTimeout    time.Duration `json:"cloneTimeout" yaml:"cloneTimeout"`
	StepTimeout     time.Duration `json:"stepTimeout" yaml:"stepTimeout"`
	ArtifactStore   ArtifactStoreConfig `json:"artifactStore" yaml:"artifactStore"`
}

// ArtifactStoreConfig describes the minio-backed blob store for build
// artifacts.
type ArtifactStoreConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"accessKeyEnv" yaml:"accessKeyEnv"`
	SecretKey string `json:"secretKeyEnv" yaml:"secretKeyEnv"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	UseSSL    bool   `json:"useSSL" yaml:"useSSL"`
}

// ApprovalConfig tunes the approval gate's quorum defaults and expiry
// sweeper.
type ApprovalConfig struct {
	DefaultQuorum   int           `json:"defaultQuorum" yaml:"defaultQuorum"`
	DefaultTTL      time.Duration `json:"defaultTTL" yaml:"defaultTTL"`
	SweepInterval   time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

// DefaultApprovalConfig returns sensible approval-gate defaults.
func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{
		DefaultQuorum: 1,
		DefaultTTL:    24 * time.Hour,
		SweepInterval: time.Minute,
	}
}

// MiddlewareConfig controls which gin middleware the Submission API wires
// in, mirroring the teacher's enable-flag-with-default-true pattern.
type MiddlewareConfig struct {
	EnableLogging *bool       `json:"enableLogging" yaml:"enableLogging"`
	EnableMetrics *bool       `json:"enableMetrics" yaml:"enableMetrics"`
	Auth          *AuthConfig `json:"auth" yaml:"auth"`
}

// AuthConfig describes the principal-identification middleware. Requesters
// authenticate with a static API key mapped to a requester ID; there is no
// session store or external identity provider in scope.
type AuthConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	ExcludePaths []string          `json:"excludePaths" yaml:"excludePaths"`
	APIKeys      map[string]string `json:"apiKeys" yaml:"apiKeys"` // key -> requester ID
}

// IsLoggingEnabled returns whether request logging middleware is enabled,
// default enabled.
func (m MiddlewareConfig) IsLoggingEnabled() bool {
	if m.EnableLogging == nil {
		return true
	}
	return *m.EnableLogging
}

// IsMetricsEnabled returns whether the metrics middleware is enabled,
// default enabled.
func (m MiddlewareConfig) IsMetricsEnabled() bool {
	if m.EnableMetrics == nil {
		return true
	}
	return *m.EnableMetrics
}

// IsAuthEnabled returns whether the auth middleware is enabled, default
// disabled.
func (m MiddlewareConfig) IsAuthEnabled() bool {
	return m.Auth != nil && m.Auth.Enabled
}

// ExcludePaths returns the paths exempted from auth, if any.
func (m MiddlewareConfig) ExcludePaths() []string {
	if m.Auth == nil {
		return nil
	}
	return m.Auth.ExcludePaths
}

var loaded *Config

// LoadConfig reads and parses the YAML file named by CONFIG_PATH, defaulting
// to "config.yaml" in the working directory.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewError().
			WithCode(errors.InitializeError).
			WithMessage("failed to open config file").
			WithError(err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.NewError().
			WithCode(errors.InitializeError).
			WithMessage("failed to parse config file").
			WithError(err)
	}

	applyDefaults(cfg)
	loaded = cfg
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Scheduler.MaxConcurrentTasks == 0 {
		cfg.Scheduler = DefaultSchedulerConfig()
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH = DefaultSSHConfig()
	}
	if cfg.Approval.DefaultQuorum == 0 {
		cfg.Approval = DefaultApprovalConfig()
	}
	if cfg.Broker.TasksExchange == "" {
		cfg.Broker.TasksExchange = "ops.tasks"
	}
	if cfg.Broker.ResultsExchange == "" {
		cfg.Broker.ResultsExchange = "ops.results"
	}
	if cfg.Broker.ControlExchange == "" {
		cfg.Broker.ControlExchange = "ops.control"
	}
	if cfg.Broker.PrefetchCount == 0 {
		cfg.Broker.PrefetchCount = 10
	}
	if cfg.Orchestrator.Capability == "" {
		cfg.Orchestrator = DefaultOrchestratorConfig()
	}
}

// Loaded returns the most recently loaded configuration, or nil if
// LoadConfig has not been called yet.
func Loaded() *Config {
	return loaded
}
