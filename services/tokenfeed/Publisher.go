package tokenfeed

import (
	"context"
	"net/url"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/kafka"
)

// Publisher writes ledger updates to the token feed topic. Its Publish method
// is a ledger.FeedFunc, so a ledger can publish through it directly.
type Publisher struct {
	logger   ulogger.Logger
	producer kafka.KafkaProducerI
}

func NewPublisher(logger ulogger.Logger, kafkaURL *url.URL) (*Publisher, error) {
	initPrometheusMetrics()

	producer, err := kafka.NewKafkaProducerFromURL(logger, kafkaURL)
	if err != nil {
		return nil, errors.NewServiceError("[TokenFeed] failed to create producer", err)
	}

	return &Publisher{logger: logger, producer: producer}, nil
}

// Publish sends one batch. Batches are sent without a key so that they all
// land on the first partition and keep ledger order.
func (p *Publisher) Publish(ctx context.Context, consumed []model.RecordID, produced []*model.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := &model.FeedBatch{Consumed: consumed, Produced: produced}

	data, err := batch.Bytes()
	if err != nil {
		return err
	}

	if err = p.producer.Send(nil, data); err != nil {
		return errors.NewServiceError("[TokenFeed] failed to publish batch", err)
	}

	prometheusTokenFeedPublished.Inc()

	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
