package index

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Shopify/sarama"

	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

// Indexer tails the audit topic with a consumer group and mirrors every entry
// into the index. It runs as a background task for the life of the process;
// the pipeline never waits on it.
type Indexer struct {
	group   sarama.ConsumerGroup
	index   *Index
	topicFn func() string
	logger  *slog.Logger
}

// NewIndexer builds an indexer over the shared ledger session. topicFn
// reports the resolved audit topic; it returns empty until the session has
// created or adopted one.
func NewIndexer(client sarama.Client, groupID string, index *Index, topicFn func() string, logger *slog.Logger) (*Indexer, error) {
	group, err := sarama.NewConsumerGroupFromClient(groupID, client)
	if err != nil {
		return nil, err
	}
	return &Indexer{group: group, index: index, topicFn: topicFn, logger: logger}, nil
}

// Run consumes the audit topic until ctx is canceled. It waits for the topic
// to be resolved before joining the group.
func (i *Indexer) Run(ctx context.Context) error {
	topic := i.awaitTopic(ctx)
	if topic == "" {
		return nil
	}

	go func() {
		for err := range i.group.Errors() {
			i.logger.Warn("indexer consumer error", "error", err)
		}
	}()

	handler := &entryHandler{index: i.index, logger: i.logger}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := i.group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			i.logger.Warn("indexer consume session failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (i *Indexer) awaitTopic(ctx context.Context) string {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if topic := i.topicFn(); topic != "" {
			return topic
		}
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
		}
	}
}

// Close leaves the consumer group.
func (i *Indexer) Close() error {
	return i.group.Close()
}

// entryHandler implements sarama.ConsumerGroupHandler
type entryHandler struct {
	index  *Index
	logger *slog.Logger
}

func (h *entryHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *entryHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *entryHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		entry, err := entryFromMessage(message)
		if err != nil {
			h.logger.Warn("skipping unparseable ledger message",
				"offset", message.Offset, "error", err)
			session.MarkMessage(message, "")
			continue
		}
		h.index.Record(entry)
		session.MarkMessage(message, "")
	}
	return nil
}

func entryFromMessage(message *sarama.ConsumerMessage) (models.LedgerEntry, error) {
	var payload models.Payload
	if err := json.Unmarshal(message.Value, &payload); err != nil {
		return models.LedgerEntry{}, err
	}
	return models.LedgerEntry{
		TopicID:        message.Topic,
		TransactionID:  string(message.Key),
		SequenceNumber: message.Offset,
		Payload:        payload,
		SubmittedAt:    message.Timestamp,
	}, nil
}
