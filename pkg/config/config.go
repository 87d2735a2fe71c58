// Package config declares the indexer's configuration shape: the six
// recognised groups (rpc, database, blockchain, retry, contracts,
// address_tracking) plus the ambient logging, metrics and maintenance
// groups carried from the teacher's layout.
package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/swarmstats/indexer/internal/common"
	"github.com/swarmstats/indexer/internal/logger"
)

// Config is the complete, validated configuration for one indexer process.
type Config struct {
	RPC             RPCConfig             `yaml:"rpc" json:"rpc" toml:"rpc"`
	Database        DatabaseConfig        `yaml:"database" json:"database" toml:"database"`
	Blockchain      BlockchainConfig      `yaml:"blockchain" json:"blockchain" toml:"blockchain"`
	Retry           RetryConfig           `yaml:"retry" json:"retry" toml:"retry"`
	Contracts       []ContractConfig      `yaml:"contracts" json:"contracts" toml:"contracts"`
	AddressTracking AddressTrackingConfig `yaml:"address_tracking" json:"address_tracking" toml:"address_tracking"`

	Logging     *LoggingConfig     `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`
	Metrics     *MetricsConfig     `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// RPCConfig configures the chain client's transport.
type RPCConfig struct {
	URL string `yaml:"url" json:"url" toml:"url"`
}

// BlockchainConfig configures scan-chunking and round-length derivations.
type BlockchainConfig struct {
	// ChunkSize is the number of blocks requested per eth_getLogs call.
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// BlockTimeSeconds is the chain's average seconds-per-block, used to
	// convert between block counts and wall-clock durations in expiry
	// projections.
	BlockTimeSeconds float64 `yaml:"block_time_seconds" json:"block_time_seconds" toml:"block_time_seconds"`

	// Finality selects which chain tip the follow loop trails: "finalized",
	// "safe", or "latest" (combined with SafetyDepth).
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// SafetyDepth is the number of blocks the follow loop stays behind the
	// selected tip when Finality is "latest".
	SafetyDepth uint64 `yaml:"safety_depth" json:"safety_depth" toml:"safety_depth"`
}

// ApplyDefaults fills unset blockchain fields with their defaults.
func (b *BlockchainConfig) ApplyDefaults() {
	if b.ChunkSize == 0 {
		b.ChunkSize = 5000
	}
	if b.BlockTimeSeconds == 0 {
		b.BlockTimeSeconds = 5
	}
	if b.Finality == "" {
		b.Finality = "finalized"
	}
}

// Validate checks the blockchain configuration.
func (b *BlockchainConfig) Validate() error {
	if b.Finality != "finalized" && b.Finality != "safe" && b.Finality != "latest" {
		return fmt.Errorf("blockchain.finality: must be one of 'finalized', 'safe', 'latest', got %q", b.Finality)
	}
	if b.ChunkSize == 0 {
		return fmt.Errorf("blockchain.chunk_size: must be greater than zero")
	}
	if b.BlockTimeSeconds <= 0 {
		return fmt.Errorf("blockchain.block_time_seconds: must be greater than zero")
	}
	return nil
}

// RetryConfig configures the two-phase retry governor.
type RetryConfig struct {
	MaxRetries               int     `yaml:"max_retries" json:"max_retries" toml:"max_retries"`
	InitialDelayMs           uint64  `yaml:"initial_delay_ms" json:"initial_delay_ms" toml:"initial_delay_ms"`
	BackoffMultiplier        float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
	ExtendedRetryWaitSeconds uint64  `yaml:"extended_retry_wait_seconds" json:"extended_retry_wait_seconds" toml:"extended_retry_wait_seconds"` //nolint:lll
}

// ApplyDefaults fills unset retry fields, mirroring internal/retry.Config's
// own defaults so a zero-valued RetryConfig in a config file behaves
// identically to omitting the section entirely.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxRetries == 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelayMs == 0 {
		r.InitialDelayMs = 100
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 4
	}
	if r.ExtendedRetryWaitSeconds == 0 {
		r.ExtendedRetryWaitSeconds = 300
	}
}

// Validate checks the retry configuration.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries <= 0 {
		return fmt.Errorf("retry.max_retries: must be greater than zero")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier: must be at least 1")
	}
	return nil
}

// DatabaseConfig configures the storage back-end. The back-end is
// selected by the shape of ConnectionString: a path ending in a database
// file extension (or containing no "://") selects the embedded sqlite
// engine; a "postgres://" or "postgresql://" URL selects the networked
// postgres engine.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string" json:"connection_string" toml:"connection_string"`

	// The following apply only to the sqlite engine.
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`
	BusyTimeout int    `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`
	CacheSize   int    `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// ApplyDefaults fills unset database fields with their defaults.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks the database configuration.
func (d *DatabaseConfig) Validate() error {
	if d.ConnectionString == "" {
		return fmt.Errorf("database.connection_string: is required")
	}
	validJournalModes := []string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}
	if !IsPostgres(d.ConnectionString) && !slices.Contains(validJournalModes, d.JournalMode) {
		return fmt.Errorf("database.journal_mode: must be one of %v, got %q", validJournalModes, d.JournalMode)
	}
	return nil
}

// IsPostgres reports whether connectionString selects the postgres
// back-end rather than embedded sqlite.
func IsPostgres(connectionString string) bool {
	return strings.HasPrefix(connectionString, "postgres://") || strings.HasPrefix(connectionString, "postgresql://")
}

// ContractConfig declares one version of one contract the indexer follows.
type ContractConfig struct {
	Name            string `yaml:"name" json:"name" toml:"name"`
	ContractType    string `yaml:"contract_type" json:"contract_type" toml:"contract_type"`
	Address         string `yaml:"address" json:"address" toml:"address"`
	DeploymentBlock uint64 `yaml:"deployment_block" json:"deployment_block" toml:"deployment_block"`
	Version         string `yaml:"version,omitempty" json:"version,omitempty" toml:"version,omitempty"`
	Active          bool   `yaml:"active" json:"active" toml:"active"`
	EndBlock        *uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`
	PausedAt        *uint64 `yaml:"paused_at,omitempty" json:"paused_at,omitempty" toml:"paused_at,omitempty"`
}

// Validate checks one contract configuration entry in isolation; cross-
// contract invariants (address uniqueness, window overlap, at-most-one
// active) are enforced by internal/registry.New once every entry has been
// converted.
func (c *ContractConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("contracts[]: name is required")
	}
	if c.ContractType == "" {
		return fmt.Errorf("contracts[%s]: contract_type is required", c.Name)
	}
	if c.Address == "" {
		return fmt.Errorf("contracts[%s]: address is required", c.Name)
	}
	return nil
}

// AddressTrackingConfig configures the owner/payer delegation tracking
// described by the data model's address-interaction rows and top-funders
// maintenance job.
type AddressTrackingConfig struct {
	Enabled               bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	MaxFundersTracked      int    `yaml:"max_funders_tracked" json:"max_funders_tracked" toml:"max_funders_tracked"`
	FundingLookbackBlocks  uint64 `yaml:"funding_lookback_blocks" json:"funding_lookback_blocks" toml:"funding_lookback_blocks"`
	MinFundingAmount       string `yaml:"min_funding_amount" json:"min_funding_amount" toml:"min_funding_amount"`
	ContractDetection      bool   `yaml:"contract_detection" json:"contract_detection" toml:"contract_detection"`
}

// ApplyDefaults fills unset address-tracking fields with their defaults.
func (a *AddressTrackingConfig) ApplyDefaults() {
	if a.MaxFundersTracked == 0 {
		a.MaxFundersTracked = 10
	}
	if a.MinFundingAmount == "" {
		a.MinFundingAmount = "0"
	}
}

// LoggingConfig configures logging, matching the teacher's per-component
// override scheme.
type LoggingConfig struct {
	DefaultLevel    string            `yaml:"default_level" json:"default_level" toml:"default_level"`
	Development     bool              `yaml:"development" json:"development" toml:"development"`
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults fills unset logging fields with their defaults.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks the logging configuration.
func (l *LoggingConfig) Validate() error {
	if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
		return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
	}
	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component %q", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}
	return nil
}

// GetComponentLevel returns the log level for component, falling back to
// DefaultLevel when no override is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// MaintenanceConfig configures the sqlite back-end's periodic WAL-checkpoint
// and VACUUM coordinator. Never applies to the postgres back-end, which
// manages its own storage.
type MaintenanceConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	VacuumOnStartup    bool   `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	CheckIntervalSeconds uint64 `yaml:"check_interval_seconds" json:"check_interval_seconds" toml:"check_interval_seconds"` //nolint:lll
	WALCheckpointMode  string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults fills unset maintenance fields with their defaults.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckIntervalSeconds == 0 {
		m.CheckIntervalSeconds = 3600
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "PASSIVE"
	}
}

// Validate checks the maintenance configuration.
func (m *MaintenanceConfig) Validate() error {
	validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
	if !slices.Contains(validModes, m.WALCheckpointMode) {
		return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of %v, got %q", validModes, m.WALCheckpointMode)
	}
	return nil
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults fills unset metrics fields with their defaults.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks the metrics configuration.
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.ListenAddress == "" {
		return fmt.Errorf("metrics.listen_address: is required when metrics are enabled")
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path: must start with '/'")
	}
	return nil
}

// ApplyDefaults fills every unset field across the whole configuration.
func (c *Config) ApplyDefaults() {
	c.Blockchain.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Database.ApplyDefaults()
	c.AddressTracking.ApplyDefaults()
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
}

// Validate checks the whole configuration, failing fast on the first
// offending key.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url: is required")
	}
	if err := c.Blockchain.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if len(c.Contracts) == 0 {
		return fmt.Errorf("contracts: at least one contract must be configured")
	}
	for i := range c.Contracts {
		if err := c.Contracts[i].Validate(); err != nil {
			return err
		}
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return err
		}
	}
	return nil
}
