// Package kafka wraps sarama consumer groups and producers for the token feed.
// A "memory" URL scheme swaps in the in-process broker from inmemorykafka.
package kafka

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util"
	inmemorykafka "github.com/bsv-blockchain/tokencache/util/kafka/in_memory_kafka"
	"github.com/bsv-blockchain/tokencache/util/retry"
)

const memoryScheme = "memory"

// saramaLoggerAdapter adapts ulogger.Logger to sarama.StdLogger
type saramaLoggerAdapter struct {
	logger ulogger.Logger
}

func (s *saramaLoggerAdapter) Print(v ...interface{}) {
	s.logger.Debugf("[SARAMA] %v", v...)
}

func (s *saramaLoggerAdapter) Printf(format string, v ...interface{}) {
	s.logger.Debugf("[SARAMA] "+format, v...)
}

func (s *saramaLoggerAdapter) Println(v ...interface{}) {
	s.logger.Debugf("[SARAMA] %v", v...)
}

type KafkaMessage struct {
	sarama.ConsumerMessage
}

type KafkaConsumerGroupI interface {
	Start(ctx context.Context, consumerFn func(message *KafkaMessage) error, opts ...ConsumerOption)
	BrokersURL() []string
	Close() error
	PauseAll()
	ResumeAll()
}

type KafkaConsumerConfig struct {
	Logger            ulogger.Logger
	URL               *url.URL
	BrokersURL        []string
	Topic             string
	Partitions        int
	ConsumerGroupID   string
	AutoCommitEnabled bool
	// Replay starts a group without committed offsets at the oldest message.
	Replay            bool
	MaxProcessingTime time.Duration
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	ChannelBufferSize int
	// OffsetReset is "latest" or "earliest"; empty follows Replay.
	OffsetReset        string
	EnableDebugLogging bool
}

type KafkaConsumerGroup struct {
	Config        KafkaConsumerConfig
	ConsumerGroup sarama.ConsumerGroup
	cancelMu      sync.Mutex
	cancel        context.CancelFunc
	closeOnce     sync.Once
}

// NewKafkaConsumerGroupFromURL builds a consumer from a URL of the form
// kafka://broker1,broker2/topic?partitions=1&replay=1&offsetReset=earliest.
func NewKafkaConsumerGroupFromURL(logger ulogger.Logger, url *url.URL, consumerGroupID string, autoCommit bool, kafkaSettings *settings.KafkaSettings) (*KafkaConsumerGroup, error) {
	if url == nil {
		return nil, errors.NewConfigurationError("missing kafka url")
	}

	enableDebugLogging := false
	if kafkaSettings != nil {
		enableDebugLogging = kafkaSettings.EnableDebugLogging
	}

	consumerConfig := KafkaConsumerConfig{
		Logger:             logger,
		URL:                url,
		BrokersURL:         strings.Split(url.Host, ","),
		Topic:              strings.TrimPrefix(url.Path, "/"),
		Partitions:         util.GetQueryParamInt(url, "partitions", 1),
		ConsumerGroupID:    consumerGroupID,
		AutoCommitEnabled:  autoCommit,
		Replay:             util.GetQueryParamInt(url, "replay", 1) == 1,
		MaxProcessingTime:  time.Duration(util.GetQueryParamInt(url, "maxProcessingTime", 100)) * time.Millisecond,
		SessionTimeout:     time.Duration(util.GetQueryParamInt(url, "sessionTimeout", 10000)) * time.Millisecond,
		HeartbeatInterval:  time.Duration(util.GetQueryParamInt(url, "heartbeatInterval", 3000)) * time.Millisecond,
		ChannelBufferSize:  util.GetQueryParamInt(url, "channelBufferSize", 256),
		OffsetReset:        url.Query().Get("offsetReset"),
		EnableDebugLogging: enableDebugLogging,
	}

	if consumerConfig.HeartbeatInterval >= consumerConfig.SessionTimeout {
		return nil, errors.NewConfigurationError("kafka heartbeatInterval (%s) must be less than sessionTimeout (%s)",
			consumerConfig.HeartbeatInterval, consumerConfig.SessionTimeout)
	}

	return NewKafkaConsumerGroup(consumerConfig)
}

// NewKafkaConsumerGroup creates the sarama consumer group, or an in-memory one for memory:// URLs.
func NewKafkaConsumerGroup(cfg KafkaConsumerConfig) (*KafkaConsumerGroup, error) {
	if cfg.URL == nil {
		return nil, errors.NewConfigurationError("kafka URL is not set")
	}

	if cfg.Logger == nil {
		return nil, errors.NewConfigurationError("logger is not set")
	}

	if cfg.ConsumerGroupID == "" {
		return nil, errors.NewConfigurationError("group ID is not set")
	}

	if cfg.Topic == "" {
		return nil, errors.NewConfigurationError("kafka topic is not set in %s", cfg.URL.String())
	}

	initPrometheusMetrics()

	cfg.Logger.Infof("Starting Kafka consumer for topic %s in group %s", cfg.Topic, cfg.ConsumerGroupID)

	if cfg.URL.Scheme == memoryScheme {
		cfg.Logger.Infof("Using in-memory Kafka consumer group")

		return &KafkaConsumerGroup{
			Config:        cfg,
			ConsumerGroup: inmemorykafka.NewConsumerGroup(inmemorykafka.GetSharedBroker(), cfg.ConsumerGroupID),
		}, nil
	}

	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.MaxProcessingTime = cfg.MaxProcessingTime
	config.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	config.Consumer.Group.Heartbeat.Interval = cfg.HeartbeatInterval
	config.ChannelBufferSize = cfg.ChannelBufferSize
	config.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommitEnabled

	config.Net.DialTimeout = 10 * time.Second
	config.Net.ReadTimeout = 10 * time.Second
	config.Net.WriteTimeout = 10 * time.Second
	config.Metadata.Timeout = 30 * time.Second

	switch {
	case cfg.OffsetReset == "earliest":
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	case cfg.OffsetReset == "latest":
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	case cfg.Replay:
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if cfg.EnableDebugLogging {
		sarama.Logger = &saramaLoggerAdapter{logger: cfg.Logger}
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.BrokersURL, cfg.ConsumerGroupID, config)
	if err != nil {
		return nil, errors.NewServiceError("failed to create Kafka consumer group for %s", cfg.Topic, err)
	}

	return &KafkaConsumerGroup{
		Config:        cfg,
		ConsumerGroup: consumerGroup,
	}, nil
}

func (k *KafkaConsumerGroup) BrokersURL() []string {
	return k.Config.BrokersURL
}

func (k *KafkaConsumerGroup) PauseAll() {
	k.ConsumerGroup.PauseAll()
	k.Config.Logger.Debugf("[Kafka] %s: paused all partitions for topic %s", k.Config.ConsumerGroupID, k.Config.Topic)
}

func (k *KafkaConsumerGroup) ResumeAll() {
	k.ConsumerGroup.ResumeAll()
	k.Config.Logger.Debugf("[Kafka] %s: resumed all partitions for topic %s", k.Config.ConsumerGroupID, k.Config.Topic)
}

// Close stops the consume loop started by Start and closes the sarama group.
func (k *KafkaConsumerGroup) Close() error {
	var err error

	k.closeOnce.Do(func() {
		k.cancelMu.Lock()
		if k.cancel != nil {
			k.cancel()
		}
		k.cancelMu.Unlock()

		if closeErr := k.ConsumerGroup.Close(); closeErr != nil {
			err = errors.NewServiceError("[Kafka] %s: error closing client", k.Config.Topic, closeErr)
		}
	})

	return err
}

type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	withRetryAndMoveOn    bool
	withLogErrorAndMoveOn bool
	maxRetries            int
	backoffMultiplier     int
	backoffDurationType   time.Duration
}

// WithRetryAndMoveOn retries a failing message and skips it once the retries are exhausted.
func WithRetryAndMoveOn(maxRetries, backoffMultiplier int, backoffDurationType time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.withRetryAndMoveOn = true
		o.withLogErrorAndMoveOn = false
		o.maxRetries = maxRetries
		o.backoffMultiplier = backoffMultiplier
		o.backoffDurationType = backoffDurationType
	}
}

// WithLogErrorAndMoveOn logs a failing message and skips it without retrying.
func WithLogErrorAndMoveOn() ConsumerOption {
	return func(o *consumerOptions) {
		o.withLogErrorAndMoveOn = true
		o.withRetryAndMoveOn = false
	}
}

func messageKey(msg *KafkaMessage) string {
	if msg == nil || msg.Key == nil {
		return ""
	}

	return string(msg.Key)
}

// wrapConsumerFn applies the error policy chosen by opts to consumerFn.
func (k *KafkaConsumerGroup) wrapConsumerFn(ctx context.Context, consumerFn func(*KafkaMessage) error, opts ...ConsumerOption) func(*KafkaMessage) error {
	options := &consumerOptions{
		maxRetries:          3,
		backoffMultiplier:   2,
		backoffDurationType: time.Second,
	}

	for _, opt := range opts {
		opt(options)
	}

	topic := k.Config.Topic
	logger := k.Config.Logger

	switch {
	case options.withRetryAndMoveOn:
		return func(msg *KafkaMessage) error {
			_, err := retry.Retry(ctx, logger, func() (struct{}, error) {
				return struct{}{}, consumerFn(msg)
			},
				retry.WithRetryCount(options.maxRetries),
				retry.WithBackoffMultiplier(options.backoffMultiplier),
				retry.WithBackoffDurationType(options.backoffDurationType),
				retry.WithMessage("[kafka_consumer] retrying processing kafka message..."))
			if err != nil {
				prometheusKafkaSkipped.WithLabelValues(topic).Inc()
				logger.Errorf("[kafka_consumer] error processing kafka message on topic %s (key: %s), skipping: %v", topic, messageKey(msg), err)
			}

			return nil
		}
	case options.withLogErrorAndMoveOn:
		return func(msg *KafkaMessage) error {
			if err := consumerFn(msg); err != nil {
				prometheusKafkaSkipped.WithLabelValues(topic).Inc()
				logger.Errorf("[kafka_consumer] error processing kafka message on topic %s (key: %s), skipping: %v", topic, messageKey(msg), err)
			}

			return nil
		}
	default:
		return consumerFn
	}
}

// Start consumes the topic in the background until ctx is done or Close is
// called. Sessions are re-joined after rebalances and transient errors.
func (k *KafkaConsumerGroup) Start(ctx context.Context, consumerFn func(message *KafkaMessage) error, opts ...ConsumerOption) {
	if k == nil {
		return
	}

	consumerFn = k.wrapConsumerFn(ctx, consumerFn, opts...)

	internalCtx, cancel := context.WithCancel(ctx)

	k.cancelMu.Lock()
	k.cancel = cancel
	k.cancelMu.Unlock()

	go func() {
		for err := range k.ConsumerGroup.Errors() {
			prometheusKafkaErrors.WithLabelValues(k.Config.Topic).Inc()
			k.Config.Logger.Errorf("[kafka_consumer] Kafka consumer error on topic %s: %v", k.Config.Topic, err)
		}
	}()

	go func() {
		defer cancel()

		handler := NewKafkaConsumer(k.Config, consumerFn)
		topics := []string{k.Config.Topic}

		for {
			if err := k.ConsumerGroup.Consume(internalCtx, topics, handler); err != nil {
				switch {
				case errors.Is(err, sarama.ErrClosedConsumerGroup):
					k.Config.Logger.Infof("[kafka_consumer] consumer group for topic %s closed", k.Config.Topic)
					return
				case errors.Is(err, context.Canceled):
				default:
					prometheusKafkaErrors.WithLabelValues(k.Config.Topic).Inc()
					k.Config.Logger.Errorf("[kafka_consumer] error consuming from topic %s: %v", k.Config.Topic, err)
				}
			}

			select {
			case <-internalCtx.Done():
				k.Config.Logger.Infof("[kafka_consumer] stopping consumer for topic %s", k.Config.Topic)
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()
}

// KafkaConsumer is the sarama.ConsumerGroupHandler used by Start.
type KafkaConsumer struct {
	consumerClosure func(*KafkaMessage) error
	cfg             KafkaConsumerConfig
}

func NewKafkaConsumer(cfg KafkaConsumerConfig, consumerClosure func(message *KafkaMessage) error) *KafkaConsumer {
	return &KafkaConsumer{
		consumerClosure: consumerClosure,
		cfg:             cfg,
	}
}

func (kc *KafkaConsumer) Setup(session sarama.ConsumerGroupSession) error {
	kc.cfg.Logger.Infof("[kafka] Consumer joined group %s for topic %s (member %s)", kc.cfg.ConsumerGroupID, kc.cfg.Topic, session.MemberID())
	return nil
}

func (kc *KafkaConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	kc.cfg.Logger.Infof("[kafka-consumer-cleanup][topic:%s] Session ending. GenerationID: %d, MemberID: %s",
		kc.cfg.Topic, session.GenerationID(), session.MemberID())

	if !kc.cfg.AutoCommitEnabled {
		session.Commit()
	}

	return nil
}

// ConsumeClaim processes the claim's messages in order. A message is marked
// only after the closure accepted it; a closure error ends the session so the
// message is redelivered.
func (kc *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			kc.cfg.Logger.Debugf("[kafka_consumer] Context done for consumer (topic: %s, partition: %d, highWatermark: %d)",
				claim.Topic(), claim.Partition(), claim.HighWaterMarkOffset())
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if message == nil {
				continue
			}

			start := time.Now()

			if err := kc.consumerClosure(&KafkaMessage{*message}); err != nil {
				prometheusKafkaErrors.WithLabelValues(message.Topic).Inc()
				kc.cfg.Logger.Errorf("[kafka_consumer] failed to process message (topic: %s, partition: %d, offset: %d): %v",
					message.Topic, message.Partition, message.Offset, err)

				return err
			}

			prometheusKafkaConsumed.WithLabelValues(message.Topic).Inc()
			prometheusKafkaProcessing.WithLabelValues(message.Topic).Observe(time.Since(start).Seconds())

			session.MarkMessage(message, "")
		}
	}
}
