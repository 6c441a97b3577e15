package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

const provisionHint = "ensure the ledger network is reachable and the topic is provisioned"

// ClusterAdmin is the slice of sarama's admin API the client needs.
type ClusterAdmin interface {
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	DescribeCluster() ([]*sarama.Broker, int32, error)
}

// MetadataReader is the slice of sarama.Client used for topic metadata.
type MetadataReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// Client manages the lifecycle of the audit topic: creation-or-reuse,
// submission, and metadata queries. Safe for concurrent use; concurrent first
// submissions share one in-flight topic creation.
type Client struct {
	producer sarama.SyncProducer
	admin    ClusterAdmin
	metadata MetadataReader
	operator config.OperatorConfig
	network  string

	configuredTopic string
	topicPrefix     string

	topicID atomic.Pointer[string]
	flight  singleflight.Group
}

// NewClient builds the ledger client on top of an established session.
func NewClient(session *Session, cfg config.LedgerConfig) (*Client, error) {
	producer, err := sarama.NewSyncProducerFromClient(session.Client())
	if err != nil {
		return nil, fmt.Errorf("ledger producer: %w", err)
	}
	admin, err := sarama.NewClusterAdminFromClient(session.Client())
	if err != nil {
		return nil, fmt.Errorf("ledger admin: %w", err)
	}
	return newClient(producer, admin, session.Client(), session.Operator(), session.Network(), cfg), nil
}

func newClient(producer sarama.SyncProducer, admin ClusterAdmin, metadata MetadataReader, operator config.OperatorConfig, network string, cfg config.LedgerConfig) *Client {
	return &Client{
		producer:        producer,
		admin:           admin,
		metadata:        metadata,
		operator:        operator,
		network:         network,
		configuredTopic: cfg.TopicID,
		topicPrefix:     cfg.TopicPrefix,
	}
}

// EnsureTopic resolves the audit topic exactly once per process. A topic
// supplied at session start is reused unconditionally without an existence
// check. Otherwise the first caller creates one and every concurrent caller
// awaits that same in-flight creation; the resolved identifier is cached for
// the rest of the process lifetime.
func (c *Client) EnsureTopic(ctx context.Context) (string, error) {
	if id := c.topicID.Load(); id != nil {
		return *id, nil
	}
	if err := ctx.Err(); err != nil {
		return "", faults.Wrap(faults.Dependency, "ledger", "ensure topic", provisionHint, err)
	}

	v, err, _ := c.flight.Do("topic", func() (interface{}, error) {
		if id := c.topicID.Load(); id != nil {
			return *id, nil
		}
		id, err := c.resolveTopic()
		if err != nil {
			return "", err
		}
		c.topicID.Store(&id)
		return id, nil
	})
	if err != nil {
		return "", faults.Wrap(faults.Dependency, "ledger", "ensure topic", provisionHint, err)
	}
	return v.(string), nil
}

func (c *Client) resolveTopic() (string, error) {
	if c.configuredTopic != "" {
		return c.configuredTopic, nil
	}
	id := fmt.Sprintf("%s-%s", c.topicPrefix, uuid.NewString()[:8])
	detail := &sarama.TopicDetail{
		// Single partition so offsets form one monotonic sequence.
		NumPartitions:     1,
		ReplicationFactor: 1,
	}
	if err := c.admin.CreateTopic(id, detail, false); err != nil {
		return "", fmt.Errorf("create topic %s: %w", id, err)
	}
	return id, nil
}

// Submit serializes the payload to a canonical message, submits it to the
// audit topic, and returns the broker-assigned sequence number. Fails loudly
// when the topic has not been resolved.
func (c *Client) Submit(ctx context.Context, payload models.Payload) (models.LedgerEntry, error) {
	var entry models.LedgerEntry

	id := c.topicID.Load()
	if id == nil {
		return entry, faults.Wrap(faults.Dependency, "ledger", "submit", provisionHint,
			fmt.Errorf("topic is unset, call EnsureTopic first"))
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return entry, faults.Wrap(faults.Dependency, "ledger", "submit", provisionHint, err)
	}
	transactionID := uuid.NewString()
	msg := &sarama.ProducerMessage{
		Topic: *id,
		Key:   sarama.StringEncoder(transactionID),
		Value: sarama.ByteEncoder(value),
	}

	type produced struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan produced, 1)
	go func() {
		partition, offset, err := c.producer.SendMessage(msg)
		done <- produced{partition, offset, err}
	}()

	select {
	case <-ctx.Done():
		return entry, faults.Wrap(faults.Dependency, "ledger", "submit", provisionHint, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return entry, faults.Wrap(faults.Dependency, "ledger", "submit", provisionHint, res.err)
		}
		entry = models.LedgerEntry{
			TopicID:        *id,
			TransactionID:  transactionID,
			SequenceNumber: res.offset,
			Payload:        payload,
			SubmittedAt:    time.Now().UTC(),
		}
		return entry, nil
	}
}

// TopicInfo reads the audit topic's metadata. Fails when the topic is unset.
func (c *Client) TopicInfo(ctx context.Context) (models.TopicInfo, error) {
	var info models.TopicInfo

	id := c.topicID.Load()
	if id == nil {
		return info, faults.Wrap(faults.Dependency, "ledger", "topic info", provisionHint,
			fmt.Errorf("topic is unset, call EnsureTopic first"))
	}
	if err := ctx.Err(); err != nil {
		return info, faults.Wrap(faults.Dependency, "ledger", "topic info", provisionHint, err)
	}

	partitions, err := c.metadata.Partitions(*id)
	if err != nil {
		return info, faults.Wrap(faults.Dependency, "ledger", "topic info", provisionHint, err)
	}
	if len(partitions) == 0 {
		return info, faults.Wrap(faults.Dependency, "ledger", "topic info", provisionHint,
			fmt.Errorf("topic %s has no partitions", *id))
	}
	next, err := c.metadata.GetOffset(*id, partitions[0], sarama.OffsetNewest)
	if err != nil {
		return info, faults.Wrap(faults.Dependency, "ledger", "topic info", provisionHint, err)
	}

	info = models.TopicInfo{
		TopicID:        *id,
		Memo:           fmt.Sprintf("solar panel telemetry audit log (%s network)", c.network),
		SequenceNumber: next,
		AdminKey:       c.operator.AccountID,
	}
	return info, nil
}

// Ping checks broker reachability for the status aggregator.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	brokers, _, err := c.admin.DescribeCluster()
	if err != nil {
		return err
	}
	if len(brokers) == 0 {
		return fmt.Errorf("no ledger brokers available")
	}
	return nil
}

// Topic reports the resolved topic identifier, or empty when unresolved.
func (c *Client) Topic() string {
	if id := c.topicID.Load(); id != nil {
		return *id
	}
	return ""
}

// Close releases the producer. The shared session is closed by its owner.
func (c *Client) Close() error {
	return c.producer.Close()
}
