package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"blockfs/pkg/protocol"
	"blockfs/pkg/utils"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "BLOCKFS"

type Config struct {
	Coordinator CoordinatorConfig
	Worker      WorkerConfig
	Client      ClientConfig
}

type CoordinatorConfig struct {
	Address               string
	MetricsAddress        string
	DataDir               string
	SnapshotFormat        string
	SnapshotInterval      time.Duration
	BlockSize             int64
	ReplicationFactor     int
	HeartbeatTimeout      time.Duration
	AuditInterval         time.Duration
	RepairTimeout         time.Duration
	DefaultWorkerCapacity int64
	AdminUser             string
	RootOwner             string
}

// SnapshotPath is where the coordinator persists its metadata.
func (c *CoordinatorConfig) SnapshotPath() string {
	if c.DataDir == "" {
		return ""
	}
	ext := "json"
	if c.SnapshotFormat == "toml" {
		ext = "toml"
	}
	return filepath.Join(c.DataDir, "metadata."+ext)
}

type WorkerConfig struct {
	Host               string
	Port               int
	CoordinatorAddress string
	DataDir            string
	Capacity           int64
	HeartbeatInterval  time.Duration
}

func (w *WorkerConfig) Address() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

type ClientConfig struct {
	CoordinatorAddress string
	User               string
	Timeout            time.Duration
}

// DefaultCoordinatorConfig returns the coordinator settings used when nothing is configured.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Address:               ":9000",
		MetricsAddress:        ":9100",
		DataDir:               "./data/coordinator",
		SnapshotFormat:        "json",
		SnapshotInterval:      time.Minute,
		BlockSize:             64 * utils.MiB,
		ReplicationFactor:     2,
		HeartbeatTimeout:      60 * time.Second,
		AuditInterval:         30 * time.Second,
		RepairTimeout:         10 * time.Second,
		DefaultWorkerCapacity: 10 * utils.GiB,
		AdminUser:             "admin",
		RootOwner:             "root",
	}
}

// New returns a viper instance carrying every default, reading BLOCKFS_* env vars.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	c := DefaultCoordinatorConfig()
	v.SetDefault("coordinator.address", c.Address)
	v.SetDefault("coordinator.metrics_address", c.MetricsAddress)
	v.SetDefault("coordinator.data_dir", c.DataDir)
	v.SetDefault("coordinator.snapshot_format", c.SnapshotFormat)
	v.SetDefault("coordinator.snapshot_interval", c.SnapshotInterval)
	v.SetDefault("coordinator.block_size", "64MiB")
	v.SetDefault("coordinator.replication_factor", c.ReplicationFactor)
	v.SetDefault("coordinator.heartbeat_timeout", c.HeartbeatTimeout)
	v.SetDefault("coordinator.audit_interval", c.AuditInterval)
	v.SetDefault("coordinator.repair_timeout", c.RepairTimeout)
	v.SetDefault("coordinator.default_worker_capacity", "10GiB")
	v.SetDefault("coordinator.admin_user", c.AdminUser)
	v.SetDefault("coordinator.root_owner", c.RootOwner)

	v.SetDefault("worker.host", "localhost")
	v.SetDefault("worker.port", 9001)
	v.SetDefault("worker.coordinator_address", "localhost:9000")
	v.SetDefault("worker.data_dir", "./data/worker")
	v.SetDefault("worker.capacity", "10GiB")
	v.SetDefault("worker.heartbeat_interval", 10*time.Second)

	v.SetDefault("client.coordinator_address", "localhost:9000")
	v.SetDefault("client.user", "default")
	v.SetDefault("client.timeout", 30*time.Second)
}

// BindFlags maps flag names onto config keys, e.g. {"block-size": "coordinator.block_size"}.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flagName, key := range keys {
		f := flags.Lookup(flagName)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flagName)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}
	return nil
}

// Load reads the optional config file into v and builds a validated Config.
// Priority: flags > environment > file > defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	blockSize, err := sizeValue(v, "coordinator.block_size")
	if err != nil {
		return nil, err
	}
	defaultCapacity, err := sizeValue(v, "coordinator.default_worker_capacity")
	if err != nil {
		return nil, err
	}
	workerCapacity, err := sizeValue(v, "worker.capacity")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Coordinator: CoordinatorConfig{
			Address:               v.GetString("coordinator.address"),
			MetricsAddress:        v.GetString("coordinator.metrics_address"),
			DataDir:               ExpandPath(v.GetString("coordinator.data_dir")),
			SnapshotFormat:        strings.ToLower(v.GetString("coordinator.snapshot_format")),
			SnapshotInterval:      v.GetDuration("coordinator.snapshot_interval"),
			BlockSize:             blockSize,
			ReplicationFactor:     v.GetInt("coordinator.replication_factor"),
			HeartbeatTimeout:      v.GetDuration("coordinator.heartbeat_timeout"),
			AuditInterval:         v.GetDuration("coordinator.audit_interval"),
			RepairTimeout:         v.GetDuration("coordinator.repair_timeout"),
			DefaultWorkerCapacity: defaultCapacity,
			AdminUser:             v.GetString("coordinator.admin_user"),
			RootOwner:             v.GetString("coordinator.root_owner"),
		},
		Worker: WorkerConfig{
			Host:               v.GetString("worker.host"),
			Port:               v.GetInt("worker.port"),
			CoordinatorAddress: v.GetString("worker.coordinator_address"),
			DataDir:            ExpandPath(v.GetString("worker.data_dir")),
			Capacity:           workerCapacity,
			HeartbeatInterval:  v.GetDuration("worker.heartbeat_interval"),
		},
		Client: ClientConfig{
			CoordinatorAddress: v.GetString("client.coordinator_address"),
			User:               v.GetString("client.user"),
			Timeout:            v.GetDuration("client.timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sizeValue accepts both raw byte counts and strings like "64MiB".
func sizeValue(v *viper.Viper, key string) (int64, error) {
	raw := v.Get(key)
	switch val := raw.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	}
	size, err := utils.ParseDataSize(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return size, nil
}

func (c *Config) Validate() error {
	if err := c.Coordinator.Validate(); err != nil {
		return err
	}
	if c.Worker.Capacity <= 0 {
		return fmt.Errorf("worker.capacity must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker.heartbeat_interval must be positive")
	}
	return nil
}

func (c *CoordinatorConfig) Validate() error {
	switch {
	case c.BlockSize <= 0:
		return fmt.Errorf("coordinator.block_size must be positive")
	case c.BlockSize > protocol.MaxBlockSize:
		return fmt.Errorf("coordinator.block_size %d exceeds the %d byte limit of a single transfer",
			c.BlockSize, int64(protocol.MaxBlockSize))
	case c.ReplicationFactor <= 0:
		return fmt.Errorf("coordinator.replication_factor must be positive")
	case c.HeartbeatTimeout <= 0:
		return fmt.Errorf("coordinator.heartbeat_timeout must be positive")
	case c.AuditInterval <= 0:
		return fmt.Errorf("coordinator.audit_interval must be positive")
	case c.SnapshotFormat != "json" && c.SnapshotFormat != "toml":
		return fmt.Errorf("coordinator.snapshot_format must be json or toml, got %q", c.SnapshotFormat)
	}
	return nil
}
