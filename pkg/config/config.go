package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"nsmeta/pkg/compression"
	"nsmeta/pkg/types"
)

// Config - корневая структура конфигурации ноды
// yaml и validate теги для парсинга и валидации
type Config struct {
	Logger    LoggerConfig    `yaml:"logger" validate:"required"`
	Server    ServerConfig    `yaml:"http-server" validate:"required"`
	Node      NodeConfig      `yaml:"node" validate:"required"`
	Gossip    GossipConfig    `yaml:"gossip" validate:"required"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
	Journal   JournalConfig   `yaml:"journal" validate:"required"`
	Checks    ChecksConfig    `yaml:"checks"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// NodeConfig - идентичность ноды: id пишется в каузальные часы, датацентр уходит в новые таблицы
type NodeConfig struct {
	ID         string `yaml:"id" validate:"required"`
	Datacenter string `yaml:"datacenter" validate:"required,uuid"`
}

type GossipConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"required"`
	Fanout      int           `yaml:"fanout" validate:"required,min=1"`
	Retries     int           `yaml:"retries" validate:"min=0"`
	Timeout     time.Duration `yaml:"timeout"`
	Compression string        `yaml:"compression" validate:"oneof=none gzip zstd"`
	// статический список пиров (host:port), используется если ZooKeeper не настроен
	Peers []string `yaml:"peers"`
}

type ZooKeeperConfig struct {
	Servers []string `yaml:"servers"`
	Root    string   `yaml:"root"`
}

type JournalConfig struct {
	Dir           string `yaml:"dir" validate:"required"`
	Compression   string `yaml:"compression" validate:"oneof=none gzip zstd"`
	KeepSnapshots int    `yaml:"keep_snapshots" validate:"min=1"`
}

type ChecksConfig struct {
	VerifyJoinLaws bool `yaml:"verify_join_laws"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: time.Second,
		},
		Node: NodeConfig{
			ID:         "node-1",
			Datacenter: "00000000-0000-0000-0000-000000000001",
		},
		Gossip: GossipConfig{
			Interval:    2 * time.Second,
			Fanout:      2,
			Retries:     2,
			Timeout:     5 * time.Second,
			Compression: string(compression.Zstd),
		},
		ZooKeeper: ZooKeeperConfig{
			Root: "/nsmeta",
		},
		Journal: JournalConfig{
			Dir:           "./data/journal",
			Compression:   string(compression.Zstd),
			KeepSnapshots: 16,
		},
	}
}

// Parse читает YAML поверх Default(), так что отсутствующие ключи берут значения по умолчанию.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with NSMETA_NODE_ID, NSMETA_PEERS and ZK_SERVERS.
func (c *Config) ApplyEnv() {
	if id := os.Getenv("NSMETA_NODE_ID"); id != "" {
		c.Node.ID = id
	}
	if peers := os.Getenv("NSMETA_PEERS"); peers != "" {
		c.Gossip.Peers = splitList(peers)
	}
	if servers := os.Getenv("ZK_SERVERS"); servers != "" {
		c.ZooKeeper.Servers = splitList(servers)
	}
}

// Validate checks what the validate tags describe.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("http-server.port out of range: %d", c.Server.Port)
	}
	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logger.level: unknown level %q", c.Logger.Level)
	}
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if _, err := types.ParseID(c.Node.Datacenter); err != nil {
		return fmt.Errorf("node.datacenter: %w", err)
	}
	if c.Gossip.Interval <= 0 {
		return fmt.Errorf("gossip.interval must be positive")
	}
	if c.Gossip.Fanout < 1 {
		return fmt.Errorf("gossip.fanout must be at least 1")
	}
	if c.Gossip.Retries < 0 {
		return fmt.Errorf("gossip.retries must not be negative")
	}
	if _, err := compression.ParseCodec(c.Gossip.Compression); err != nil {
		return fmt.Errorf("gossip.compression: %w", err)
	}
	if c.Journal.Dir == "" {
		return fmt.Errorf("journal.dir is required")
	}
	if _, err := compression.ParseCodec(c.Journal.Compression); err != nil {
		return fmt.Errorf("journal.compression: %w", err)
	}
	if c.Journal.KeepSnapshots < 1 {
		return fmt.Errorf("journal.keep_snapshots must be at least 1")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
