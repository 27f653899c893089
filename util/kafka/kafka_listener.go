package kafka

import (
	"context"
	"net/url"

	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/ulogger"
)

// StartKafkaListener creates a consumer group for kafkaURL and starts it. The
// client is closed once ctx is done; consumerFn is called for each message.
func StartKafkaListener(ctx context.Context, logger ulogger.Logger, kafkaURL *url.URL, groupID string, autoCommit bool,
	consumerFn func(msg *KafkaMessage) error, kafkaSettings *settings.KafkaSettings, opts ...ConsumerOption) (*KafkaConsumerGroup, error) {
	client, err := NewKafkaConsumerGroupFromURL(logger, kafkaURL, groupID, autoCommit, kafkaSettings)
	if err != nil {
		logger.Errorf("failed to start Kafka listener for %s: %v", kafkaURL, err)
		return nil, err
	}

	// the consumer gets its own context so Close can stop it before ctx's parent is done
	kCtx, kCancel := context.WithCancel(context.Background())

	go func() {
		<-ctx.Done()
		logger.Infof("[kafka] shutting down consumer for %s", kafkaURL.String())

		if err := client.Close(); err != nil {
			logger.Errorf("failed to close Kafka client: %v", err)
		}

		kCancel()
	}()

	client.Start(kCtx, consumerFn, opts...)

	return client, nil
}
