package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы. Ошибка подключения
// не останавливает сервис: outbox копится и уйдёт после перезапуска с брокером.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, nil
	}

	list := kafka.ParseBrokers(brokers)
	producer, err := kafka.NewProducer(list, kafka.WithClientID("food-service"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", list).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers возвращает publisher событий и DLQ. Без producer оба nil.
func outboxPublishers(producer *kafka.Producer, cfg Config) (events, dlq domain.OutboxPublisher) {
	if producer == nil {
		return nil, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.KafkaTopic), kafka.NewRawPublisher(producer, cfg.KafkaDLQTopic)
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
