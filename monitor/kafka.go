package monitor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const (
	KafkaBatchInterval  = 1 * time.Second
	KafkaRequestTimeout = 60 * time.Second
	KafkaBatchSize      = 100
	KafkaChannelSize    = 100

	EventWorkerHealthChanged = "worker_health_changed"
	EventUsageFlushed        = "usage_flushed"
	EventUsageFlushFailed    = "usage_flush_failed"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer         messageWriter
	topic          string
	events         chan GatewayEvent
	gatewayAddress string
	stop           chan struct{}
	done           chan struct{}
}

type GatewayEvent struct {
	ID        *string `json:"id,omitempty"`
	Type      *string `json:"type"`
	Timestamp *string `json:"timestamp"`
	Gateway   *string `json:"gateway,omitempty"`
	Data      any     `json:"data"`
}

type WorkerHealthChanged struct {
	Address   string `json:"address"`
	Endpoint  string `json:"endpoint"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
}

type UsageFlushedEvent struct {
	BatchID   string `json:"batch_id"`
	Path      string `json:"path"`
	Operators int    `json:"operators"`
	Requests  int64  `json:"requests"`
}

type UsageFlushFailedEvent struct {
	Path      string `json:"path"`
	Operators int    `json:"operators"`
	Requests  int64  `json:"requests"`
	Error     string `json:"error"`
}

var kafkaProducer *KafkaProducer

func InitKafkaProducer(bootstrapServers, user, password, topic, gatewayAddress string) error {
	producer, err := newKafkaProducer(bootstrapServers, user, password, topic, gatewayAddress)
	if err != nil {
		return err
	}
	kafkaProducer = producer
	go producer.processEvents()
	return nil
}

// StopKafkaProducer sends whatever is queued and closes the writer
func StopKafkaProducer() {
	p := kafkaProducer
	if p == nil {
		return
	}
	kafkaProducer = nil
	close(p.stop)
	<-p.done
	if err := p.writer.Close(); err != nil {
		glog.Warningf("error closing kafka writer err=%v", err)
	}
}

func newKafkaProducer(bootstrapServers, user, password, topic, gatewayAddress string) (*KafkaProducer, error) {
	if bootstrapServers == "" || topic == "" {
		return nil, fmt.Errorf("kafka bootstrap servers and topic are required")
	}
	dialer := &kafka.Dialer{
		Timeout:   KafkaRequestTimeout,
		DualStack: true,
	}

	if user != "" && password != "" {
		tls := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		sasl := &plain.Mechanism{
			Username: user,
			Password: password,
		}
		dialer.SASLMechanism = sasl
		dialer.TLS = tls
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  []string{bootstrapServers},
		Topic:    topic,
		Balancer: kafka.CRC32Balancer{},
		Dialer:   dialer,
	})

	return newProducerWithWriter(writer, topic, gatewayAddress), nil
}

func newProducerWithWriter(writer messageWriter, topic, gatewayAddress string) *KafkaProducer {
	return &KafkaProducer{
		writer:         writer,
		topic:          topic,
		events:         make(chan GatewayEvent, KafkaChannelSize),
		gatewayAddress: gatewayAddress,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (p *KafkaProducer) processEvents() {
	defer close(p.done)
	ticker := time.NewTicker(KafkaBatchInterval)
	defer ticker.Stop()

	var eventsBatch []kafka.Message

	for {
		select {
		case event := <-p.events:
			msg, ok := toMessage(event)
			if !ok {
				continue
			}
			eventsBatch = append(eventsBatch, msg)

			// Send batch if it reaches the defined size
			if len(eventsBatch) >= KafkaBatchSize {
				p.sendBatch(eventsBatch)
				eventsBatch = nil
			}

		case <-ticker.C:
			if len(eventsBatch) > 0 {
				p.sendBatch(eventsBatch)
				eventsBatch = nil
			}

		case <-p.stop:
		drain:
			for {
				select {
				case event := <-p.events:
					if msg, ok := toMessage(event); ok {
						eventsBatch = append(eventsBatch, msg)
					}
				default:
					break drain
				}
			}
			if len(eventsBatch) > 0 {
				p.sendBatch(eventsBatch)
			}
			return
		}
	}
}

func toMessage(event GatewayEvent) (kafka.Message, bool) {
	value, err := json.Marshal(event)
	if err != nil {
		glog.Errorf("error while marshalling gateway event to Kafka, err=%v", err)
		return kafka.Message{}, false
	}
	return kafka.Message{
		Key:   []byte(*event.ID),
		Value: value,
	}, true
}

func (p *KafkaProducer) sendBatch(eventsBatch []kafka.Message) {
	// We retry sending messages to Kafka in case of a failure
	kafkaWriteRetries := 3
	var writeErr error
	for i := 0; i < kafkaWriteRetries; i++ {
		writeErr = p.writer.WriteMessages(context.Background(), eventsBatch...)
		if writeErr == nil {
			return
		}
		glog.Warningf("error while sending gateway event batch to Kafka, retrying, topic=%s, try=%d, err=%v", p.topic, i, writeErr)
	}
	if writeErr != nil {
		glog.Errorf("error while sending gateway event batch to Kafka, the events are lost, err=%v", writeErr)
	}
}

func SendQueueEventAsync(eventType string, data any) {
	if kafkaProducer == nil {
		return
	}
	kafkaProducer.enqueue(eventType, data)
}

func (p *KafkaProducer) enqueue(eventType string, data any) {
	randomID := uuid.New().String()
	timestampMs := time.Now().UnixMilli()

	event := GatewayEvent{
		ID:        stringPtr(randomID),
		Gateway:   stringPtr(p.gatewayAddress),
		Type:      &eventType,
		Timestamp: stringPtr(fmt.Sprint(timestampMs)),
		Data:      data,
	}

	select {
	case p.events <- event:
	default:
		glog.Warningf("kafka producer event queue is full, dropping event %q", eventType)
	}
}

func stringPtr(s string) *string {
	return &s
}
