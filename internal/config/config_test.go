package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
authorize_signers: true
debts:
  "0x1111111111111111111111111111111111111111": 5
payments_escrow_contract: "0xaaaa111111111111111111111111111111111111"
graph_tally_collector_contract: "0xbbbb111111111111111111111111111111111111"
grt_contract: "0xcccc111111111111111111111111111111111111"
grt_allowance: 1000000
kafka:
  brokers: ["localhost:9092"]
  realtime_topic: "gateway_fees_realtime"
  aggregated_topic: "gateway_fees_aggregated"
network_subgraph: "https://example.test/network"
escrow_subgraph: "https://example.test/escrow"
rpc_url: "https://example.test/rpc"
chain_id: 1337
secret_key: "1111111111111111111111111111111111111111111111111111111111111111"
signers: ["2222222222222222222222222222222222222222222222222222222222222222"]
update_interval_seconds: 30
`

func TestLoad_Valid(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.AuthorizeSigners)
	require.EqualValues(t, 5, cfg.Debts["0x1111111111111111111111111111111111111111"])
	require.Equal(t, "tap-escrow-manager", cfg.Kafka.GroupID)
	require.Equal(t, "true", cfg.Kafka.Properties["enable.auto.commit"])
	require.EqualValues(t, 30, cfg.UpdateIntervalSeconds)
}

func TestLoad_Defaults(t *testing.T) {
	const noIntervalOrGroup = `
payments_escrow_contract: "0xaaaa111111111111111111111111111111111111"
graph_tally_collector_contract: "0xbbbb111111111111111111111111111111111111"
grt_contract: "0xcccc111111111111111111111111111111111111"
kafka:
  brokers: ["localhost:9092"]
network_subgraph: "https://example.test/network"
escrow_subgraph: "https://example.test/escrow"
rpc_url: "https://example.test/rpc"
chain_id: 1337
secret_key: "11"
`
	path := writeTempConfig(t, noIntervalOrGroup)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 60, cfg.UpdateIntervalSeconds)
	require.Equal(t, "gateway_fees_realtime", cfg.Kafka.RealtimeTopic)
	require.True(t, cfg.Kafka.AutoCommitEnabled())
}

func TestKafkaConfig_AutoCommitEnabled(t *testing.T) {
	require.True(t, KafkaConfig{}.AutoCommitEnabled(), "unset properties default to enabled per spec.md §6")

	require.True(t, KafkaConfig{Properties: map[string]string{
		"enable.auto.commit":       "true",
		"enable.auto.offset.store": "true",
	}}.AutoCommitEnabled())

	require.False(t, KafkaConfig{Properties: map[string]string{
		"enable.auto.commit": "false",
	}}.AutoCommitEnabled())

	require.False(t, KafkaConfig{Properties: map[string]string{
		"enable.auto.offset.store": "false",
	}}.AutoCommitEnabled())
}

func TestLoad_MissingRequired(t *testing.T) {
	path := writeTempConfig(t, "authorize_signers: true\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rpc_url")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_RPC_URL", "https://resolved.test/rpc")
	const withEnv = `
payments_escrow_contract: "0xaaaa111111111111111111111111111111111111"
graph_tally_collector_contract: "0xbbbb111111111111111111111111111111111111"
grt_contract: "0xcccc111111111111111111111111111111111111"
kafka:
  brokers: ["localhost:9092"]
network_subgraph: "https://example.test/network"
escrow_subgraph: "https://example.test/escrow"
rpc_url: "${TEST_RPC_URL}"
chain_id: 1337
secret_key: "11"
`
	path := writeTempConfig(t, withEnv)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://resolved.test/rpc", cfg.RPCURL)
}
