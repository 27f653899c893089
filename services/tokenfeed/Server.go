// Package tokenfeed delivers the ledger's change feed to the token cache. The
// server consumes FeedBatch messages from a Kafka topic and applies them in
// order; the publisher is the producing side used by ledgers that write the
// feed.
package tokenfeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/kafka"
)

const (
	applyRetries      = 3
	applyBackoffMulti = 2
	applyBackoff      = 100 * time.Millisecond
)

type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	apply    ledger.FeedFunc

	mu       sync.RWMutex
	consumer *kafka.KafkaConsumerGroup
}

// New returns a server applying every batch read from the configured token
// feed topic with apply, usually the cache's Apply.
func New(logger ulogger.Logger, tSettings *settings.Settings, apply ledger.FeedFunc) *Server {
	initPrometheusMetrics()

	return &Server{
		logger:   logger,
		settings: tSettings,
		apply:    apply,
	}
}

func (s *Server) Init(_ context.Context) error {
	if s.settings.Kafka.TokenFeedConfig == nil {
		return errors.NewConfigurationError("[TokenFeed] kafka_tokenFeedConfig is not set")
	}

	if s.apply == nil {
		return errors.NewConfigurationError("[TokenFeed] no feed consumer")
	}

	return nil
}

// Start joins the consumer group and blocks until ctx is done. Batches that
// cannot be decoded are skipped; batches the cache fails to apply are retried
// and then skipped.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	kafkaURL := s.settings.Kafka.TokenFeedConfig

	s.logger.Infof("[TokenFeed] starting listener on %s", kafkaURL.String())

	consumer, err := kafka.StartKafkaListener(ctx, s.logger, kafkaURL, s.settings.Kafka.ConsumerGroupID, true,
		s.consumerMessageHandler(ctx), &s.settings.Kafka,
		kafka.WithRetryAndMoveOn(applyRetries, applyBackoffMulti, applyBackoff),
	)
	if err != nil {
		return errors.NewServiceError("[TokenFeed] failed to start kafka listener", err)
	}

	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()

	close(readyCh)

	<-ctx.Done()

	return nil
}

func (s *Server) Stop(_ context.Context) error {
	s.mu.RLock()
	consumer := s.consumer
	s.mu.RUnlock()

	if consumer == nil {
		return nil
	}

	return consumer.Close()
}

func (s *Server) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	s.mu.RLock()
	consumer := s.consumer
	s.mu.RUnlock()

	if consumer == nil {
		return http.StatusServiceUnavailable, "token feed consumer not started", errors.NewServiceNotStartedError("[TokenFeed] consumer not started")
	}

	return http.StatusOK, "token feed consuming " + consumer.Config.Topic, nil
}

func (s *Server) consumerMessageHandler(ctx context.Context) func(msg *kafka.KafkaMessage) error {
	return func(msg *kafka.KafkaMessage) error {
		start := time.Now()
		defer func() {
			prometheusTokenFeedProcess.Observe(time.Since(start).Seconds())
		}()

		batch, err := model.NewFeedBatchFromBytes(msg.Value)
		if err != nil {
			// retrying a malformed batch cannot help
			prometheusTokenFeedInvalid.Inc()
			s.logger.Errorf("[TokenFeed] skipping undecodable batch at offset %d: %v", msg.Offset, err)

			return nil
		}

		if err = s.apply(ctx, batch.Consumed, batch.Produced); err != nil {
			return errors.NewProcessingError("[TokenFeed] failed to apply batch at offset %d", msg.Offset, err)
		}

		prometheusTokenFeedBatches.Inc()
		prometheusTokenFeedBatchSize.Observe(float64(len(batch.Consumed) + len(batch.Produced)))

		return nil
	}
}
