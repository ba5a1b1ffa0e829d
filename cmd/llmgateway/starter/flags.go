package starter

import (
	"flag"

	"github.com/peterbourgon/ff/v3"
)

// EnvVarPrefix prefixes the environment variables read for every flag, e.g. LLMGW_HTTPADDR
const EnvVarPrefix = "LLMGW"

func NewGatewayConfig(fs *flag.FlagSet) GatewayConfig {
	cfg := DefaultGatewayConfig()

	// Network & Addresses:
	cfg.HttpAddr = fs.String("httpAddr", *cfg.HttpAddr, "Address to bind for the gateway HTTP API")
	cfg.GatewayAddr = fs.String("gatewayAddr", *cfg.GatewayAddr, "Externally reachable address of this gateway, attached to emitted events")
	cfg.Datadir = fs.String("datadir", *cfg.Datadir, "Data directory for the gateway")

	// Ledger:
	cfg.EthUrl = fs.String("ethUrl", *cfg.EthUrl, "Ledger RPC URL to connect to")
	cfg.EthKeystorePath = fs.String("ethKeystorePath", *cfg.EthKeystorePath, "Path to an ETH keystore directory or keyfile. Without it and -ethAcctAddr the gateway runs read-only and cannot commit usage")
	cfg.EthAcctAddr = fs.String("ethAcctAddr", *cfg.EthAcctAddr, "Existing ETH account address. For use when multiple ETH accounts exist in the keystore directory")
	cfg.EthPassword = fs.String("ethPassword", *cfg.EthPassword, "Password for the ETH account, or path to a file containing it")
	cfg.RegistryAddr = fs.String("registryAddr", *cfg.RegistryAddr, "Address of the OperatorRegistry contract")
	cfg.StakingAddr = fs.String("stakingAddr", *cfg.StakingAddr, "Address of the StakingManager contract")
	cfg.TxTimeout = fs.Duration("txTimeout", *cfg.TxTimeout, "Amount of time to wait for a usage commit to be mined")

	// Workers:
	cfg.HealthCheckInterval = fs.Duration("healthCheckInterval", *cfg.HealthCheckInterval, "Interval between worker health probes")
	cfg.ProbeTimeout = fs.Duration("probeTimeout", *cfg.ProbeTimeout, "Timeout of a single worker health probe")
	cfg.RequestTimeout = fs.Duration("requestTimeout", *cfg.RequestTimeout, "Timeout of a proxied chat exchange")

	// Usage reconciliation:
	cfg.FlushInterval = fs.Duration("flushInterval", *cfg.FlushInterval, "Interval between usage commits to the ledger")
	cfg.CacheRefreshInterval = fs.Duration("cacheRefreshInterval", *cfg.CacheRefreshInterval, "Interval between operator set refreshes from the ledger")
	cfg.ReplayUnsyncedUsage = fs.Bool("replayUnsyncedUsage", *cfg.ReplayUnsyncedUsage, "Load usage recorded but never committed before the last shutdown")

	// Metrics & events:
	cfg.Monitor = fs.Bool("monitor", *cfg.Monitor, "Set to true to enable metrics on /metrics")
	cfg.KafkaBootstrapServers = fs.String("kafkaBootstrapServers", *cfg.KafkaBootstrapServers, "URL of Kafka Bootstrap Servers")
	cfg.KafkaUsername = fs.String("kafkaUser", *cfg.KafkaUsername, "Kafka Username")
	cfg.KafkaPassword = fs.String("kafkaPassword", *cfg.KafkaPassword, "Kafka Password")
	cfg.KafkaGatewayTopic = fs.String("kafkaTopic", *cfg.KafkaGatewayTopic, "Kafka Topic used to send gateway events")

	return cfg
}

// ParseGatewayConfig registers the gateway flags on fs and parses args. Values are
// taken from args first, then LLMGW_* environment variables, then the file named
// by -config.
func ParseGatewayConfig(fs *flag.FlagSet, args []string) (GatewayConfig, error) {
	cfg := NewGatewayConfig(fs)
	_ = fs.String("config", "", "Config file in the format 'key value', flags and env vars take precedence over the config file")
	err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	return cfg, err
}
