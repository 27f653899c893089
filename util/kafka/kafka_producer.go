package kafka

import (
	"encoding/binary"
	"net/url"
	"strings"

	"github.com/IBM/sarama"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util"
	inmemorykafka "github.com/bsv-blockchain/tokencache/util/kafka/in_memory_kafka"
)

type KafkaProducerI interface {
	Send(key []byte, data []byte) error
	Close() error
}

type SyncKafkaProducer struct {
	Producer   sarama.SyncProducer
	Topic      string
	Partitions int32
}

func (k *SyncKafkaProducer) Close() error {
	if err := k.Producer.Close(); err != nil {
		return errors.NewServiceError("failed to close Kafka producer", err)
	}

	return nil
}

// partition picks the partition from the first four bytes of the key, so
// messages without a key all land on partition 0 and stay ordered.
func (k *SyncKafkaProducer) partition(key []byte) int32 {
	if len(key) < 4 || k.Partitions <= 1 {
		return 0
	}

	return int32(binary.LittleEndian.Uint32(key) % uint32(k.Partitions)) //nolint:gosec // bounded by Partitions
}

func (k *SyncKafkaProducer) Send(key []byte, data []byte) error {
	msg := &sarama.ProducerMessage{
		Topic:     k.Topic,
		Value:     sarama.ByteEncoder(data),
		Partition: k.partition(key),
	}

	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	if _, _, err := k.Producer.SendMessage(msg); err != nil {
		return errors.NewServiceError("failed to send message to topic %s", k.Topic, err)
	}

	prometheusKafkaProduced.WithLabelValues(k.Topic).Inc()

	return nil
}

// NewKafkaProducerFromURL connects a producer to the topic named by the URL
// path, creating the topic if needed. memory:// URLs use the shared
// in-process broker.
func NewKafkaProducerFromURL(logger ulogger.Logger, kafkaURL *url.URL) (KafkaProducerI, error) {
	if kafkaURL == nil {
		return nil, errors.NewConfigurationError("missing kafka url")
	}

	initPrometheusMetrics()

	topic := strings.TrimPrefix(kafkaURL.Path, "/")
	if topic == "" {
		return nil, errors.NewConfigurationError("kafka topic is not set in %s", kafkaURL.String())
	}

	if kafkaURL.Scheme == memoryScheme {
		logger.Infof("Using in-memory Kafka producer for topic %s", topic)

		return &SyncKafkaProducer{
			Producer:   inmemorykafka.NewSyncProducer(inmemorykafka.GetSharedBroker()),
			Topic:      topic,
			Partitions: 1,
		}, nil
	}

	brokersURL := strings.Split(kafkaURL.Host, ",")
	partitions := util.GetQueryParamInt(kafkaURL, "partitions", 1)
	replicationFactor := util.GetQueryParamInt(kafkaURL, "replication", 1)
	retentionPeriod := util.GetQueryParam(kafkaURL, "retention", "600000")

	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0

	clusterAdmin, err := sarama.NewClusterAdmin(brokersURL, config)
	if err != nil {
		return nil, errors.NewServiceError("error while creating cluster admin", err)
	}

	defer clusterAdmin.Close()

	if err = clusterAdmin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     int32(partitions),        //nolint:gosec // from config
		ReplicationFactor: int16(replicationFactor), //nolint:gosec // from config
		ConfigEntries: map[string]*string{
			"retention.ms": &retentionPeriod,
		},
	}, false); err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return nil, errors.NewServiceError("error while creating topic %s", topic, err)
	}

	return ConnectProducer(brokersURL, topic, int32(partitions)) //nolint:gosec // from config
}

func ConnectProducer(brokersURL []string, topic string, partitions int32) (KafkaProducerI, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewManualPartitioner

	conn, err := sarama.NewSyncProducer(brokersURL, config)
	if err != nil {
		return nil, errors.NewServiceError("unable to connect to kafka", err)
	}

	return &SyncKafkaProducer{
		Producer:   conn,
		Partitions: partitions,
		Topic:      topic,
	}, nil
}
