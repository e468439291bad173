// Package config loads the single YAML configuration file named on the
// command line (spec.md §6).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for "30s"-style YAML scalars.
//
// Adapted from the pack's slowdrip-network-slowdrip-miner config loader.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string (e.g. \"30s\"): %w", err)
	}
	s = expandEnvDefault(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

// KafkaConfig is the `kafka` block of spec.md §6.
type KafkaConfig struct {
	Brokers        []string          `yaml:"brokers"`
	ClientID       string            `yaml:"client_id"`
	RealtimeTopic  string            `yaml:"realtime_topic"`
	AggregatedTopic string           `yaml:"aggregated_topic"`
	GroupID        string            `yaml:"group_id"`
	Properties     map[string]string `yaml:"properties"`
}

// AutoCommitEnabled reports whether both of spec.md §6's auto-commit
// properties ("enable.auto.commit", "enable.auto.offset.store") are set
// to their default/true value, the condition under which the aggregator
// periodically reports its consumed offsets to GroupID.
func (k KafkaConfig) AutoCommitEnabled() bool {
	return k.propertyBool("enable.auto.commit") && k.propertyBool("enable.auto.offset.store")
}

func (k KafkaConfig) propertyBool(key string) bool {
	v, ok := k.Properties[key]
	if !ok {
		return true
	}
	return v != "false" && v != "0"
}

// Config is the top-level configuration document.
type Config struct {
	AuthorizeSigners bool              `yaml:"authorize_signers"`
	Debts            map[string]uint64 `yaml:"debts"`

	PaymentsEscrowContract      string `yaml:"payments_escrow_contract"`
	GraphTallyCollectorContract string `yaml:"graph_tally_collector_contract"`
	GRTContract                 string `yaml:"grt_contract"`
	GRTAllowance                uint64 `yaml:"grt_allowance"`

	Kafka KafkaConfig `yaml:"kafka"`

	NetworkSubgraph string `yaml:"network_subgraph"`
	EscrowSubgraph  string `yaml:"escrow_subgraph"`
	QueryAuth       string `yaml:"query_auth"`

	RPCURL  string `yaml:"rpc_url"`
	ChainID uint64 `yaml:"chain_id"`

	SecretKey string   `yaml:"secret_key"`
	Signers   []string `yaml:"signers"`

	UpdateIntervalSeconds uint64 `yaml:"update_interval_seconds"`
}

// Load reads, env-expands, parses, defaults, and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	cfg.PaymentsEscrowContract = expandEnvDefault(cfg.PaymentsEscrowContract)
	cfg.GraphTallyCollectorContract = expandEnvDefault(cfg.GraphTallyCollectorContract)
	cfg.GRTContract = expandEnvDefault(cfg.GRTContract)
	cfg.NetworkSubgraph = expandEnvDefault(cfg.NetworkSubgraph)
	cfg.EscrowSubgraph = expandEnvDefault(cfg.EscrowSubgraph)
	cfg.QueryAuth = expandEnvDefault(cfg.QueryAuth)
	cfg.RPCURL = expandEnvDefault(cfg.RPCURL)
	cfg.SecretKey = expandEnvDefault(cfg.SecretKey)
	for i := range cfg.Signers {
		cfg.Signers[i] = expandEnvDefault(cfg.Signers[i])
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.UpdateIntervalSeconds == 0 {
		c.UpdateIntervalSeconds = 60
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "tap-escrow-manager"
	}
	if c.Kafka.RealtimeTopic == "" {
		c.Kafka.RealtimeTopic = "gateway_fees_realtime"
	}
	if c.Kafka.Properties == nil {
		c.Kafka.Properties = map[string]string{}
	}
	if _, ok := c.Kafka.Properties["enable.auto.commit"]; !ok {
		c.Kafka.Properties["enable.auto.commit"] = "true"
	}
	if _, ok := c.Kafka.Properties["enable.auto.offset.store"]; !ok {
		c.Kafka.Properties["enable.auto.offset.store"] = "true"
	}
}

func validate(c *Config) error {
	var missing []string
	if c.PaymentsEscrowContract == "" {
		missing = append(missing, "payments_escrow_contract")
	}
	if c.GraphTallyCollectorContract == "" {
		missing = append(missing, "graph_tally_collector_contract")
	}
	if c.GRTContract == "" {
		missing = append(missing, "grt_contract")
	}
	if c.NetworkSubgraph == "" {
		missing = append(missing, "network_subgraph")
	}
	if c.EscrowSubgraph == "" {
		missing = append(missing, "escrow_subgraph")
	}
	if c.RPCURL == "" {
		missing = append(missing, "rpc_url")
	}
	if c.ChainID == 0 {
		missing = append(missing, "chain_id")
	}
	if c.SecretKey == "" {
		missing = append(missing, "secret_key")
	}
	if len(c.Kafka.Brokers) == 0 {
		missing = append(missing, "kafka.brokers")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

var envRe = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvDefault replaces ${VAR} with os.Getenv("VAR") and ${VAR:default}
// with the env value, or "default" if unset.
func expandEnvDefault(s string) string {
	if s == "" {
		return s
	}
	return envRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := envRe.FindStringSubmatch(m)
		if len(parts) != 3 {
			return m
		}
		name, def := parts[1], parts[2]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}
