package starter

import (
	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/monitor"
)

func startKafkaProducer(cfg GatewayConfig) error {
	if *cfg.KafkaBootstrapServers == "" || *cfg.KafkaUsername == "" || *cfg.KafkaPassword == "" || *cfg.KafkaGatewayTopic == "" {
		glog.Warning("not starting Kafka producer as producer config values aren't present")
		return nil
	}

	var gatewayAddr = ""
	if cfg.GatewayAddr != nil {
		gatewayAddr = *cfg.GatewayAddr
	}

	return monitor.InitKafkaProducer(
		*cfg.KafkaBootstrapServers,
		*cfg.KafkaUsername,
		*cfg.KafkaPassword,
		*cfg.KafkaGatewayTopic,
		gatewayAddr,
	)
}
