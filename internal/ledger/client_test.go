package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"

	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

type fakeAdmin struct {
	mu      sync.Mutex
	created []string
	delay   time.Duration
	err     error
}

func (f *fakeAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, topic)
	return nil
}

func (f *fakeAdmin) DescribeCluster() ([]*sarama.Broker, int32, error) {
	if f.err != nil {
		return nil, -1, f.err
	}
	return []*sarama.Broker{sarama.NewBroker("localhost:9092")}, 0, nil
}

func (f *fakeAdmin) creations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeMetadata struct {
	offset int64
	err    error
}

func (f *fakeMetadata) Partitions(topic string) ([]int32, error) {
	return []int32{0}, f.err
}

func (f *fakeMetadata) GetOffset(topic string, partition int32, at int64) (int64, error) {
	return f.offset, f.err
}

func testOperator() config.OperatorConfig {
	return config.OperatorConfig{AccountID: "0.0.4821", Credential: "secret"}
}

func testLedgerConfig(topicID string) config.LedgerConfig {
	return config.LedgerConfig{
		TopicID:     topicID,
		TopicPrefix: "solarsentinel-readings",
	}
}

func samplePayload() models.Payload {
	return models.Payload{
		Sample: models.TelemetrySample{
			DeviceID:    "panel-000001",
			Timestamp:   time.Now().UTC(),
			Voltage:     11.8,
			Temperature: 28.0,
			PowerOutput: 205,
		},
		Verdict: models.ClassificationVerdict{
			Label:      models.VerdictNormal,
			Confidence: 0.94,
		},
	}
}

func TestEnsureTopicReusesConfiguredID(t *testing.T) {
	admin := &fakeAdmin{}
	c := newClient(nil, admin, &fakeMetadata{}, testOperator(), "test", testLedgerConfig("existing-topic"))

	id, err := c.EnsureTopic(context.Background())
	if err != nil {
		t.Fatalf("EnsureTopic() = %v", err)
	}
	if id != "existing-topic" {
		t.Fatalf("topic = %q", id)
	}
	if admin.creations() != 0 {
		t.Fatalf("configured topic must be reused without creation, got %d creations", admin.creations())
	}
}

func TestEnsureTopicConcurrentFirstCallersShareOneCreation(t *testing.T) {
	admin := &fakeAdmin{delay: 50 * time.Millisecond}
	c := newClient(nil, admin, &fakeMetadata{}, testOperator(), "test", testLedgerConfig(""))

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = c.EnsureTopic(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d observed topic %q, caller 0 observed %q", i, ids[i], ids[0])
		}
	}
	if admin.creations() != 1 {
		t.Fatalf("expected exactly one topic creation, got %d", admin.creations())
	}
}

func TestEnsureTopicFailureIsNotCached(t *testing.T) {
	admin := &fakeAdmin{err: errors.New("broker down")}
	c := newClient(nil, admin, &fakeMetadata{}, testOperator(), "test", testLedgerConfig(""))

	if _, err := c.EnsureTopic(context.Background()); err == nil {
		t.Fatalf("expected creation failure")
	}

	admin.mu.Lock()
	admin.err = nil
	admin.mu.Unlock()

	id, err := c.EnsureTopic(context.Background())
	if err != nil {
		t.Fatalf("EnsureTopic() after recovery = %v", err)
	}
	if id == "" {
		t.Fatalf("expected a topic after recovery")
	}
}

func TestSubmitWithoutTopicFailsLoudly(t *testing.T) {
	c := newClient(nil, &fakeAdmin{}, &fakeMetadata{}, testOperator(), "test", testLedgerConfig(""))

	_, err := c.Submit(context.Background(), samplePayload())
	if err == nil {
		t.Fatalf("expected error for unset topic")
	}
	if faults.CategoryOf(err) != faults.Dependency {
		t.Fatalf("category = %s", faults.CategoryOf(err))
	}
}

func TestSubmitReturnsBrokerAssignedSequence(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	c := newClient(producer, &fakeAdmin{}, &fakeMetadata{}, testOperator(), "test", testLedgerConfig("audit-topic"))
	if _, err := c.EnsureTopic(context.Background()); err != nil {
		t.Fatalf("EnsureTopic() = %v", err)
	}

	entry, err := c.Submit(context.Background(), samplePayload())
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if entry.TopicID != "audit-topic" {
		t.Fatalf("topic = %q", entry.TopicID)
	}
	if entry.TransactionID == "" {
		t.Fatalf("transaction id must be non-empty")
	}
	if entry.SequenceNumber <= 0 {
		t.Fatalf("sequence number = %d", entry.SequenceNumber)
	}
	if entry.Payload.Verdict.Label != models.VerdictNormal {
		t.Fatalf("payload verdict = %s", entry.Payload.Verdict.Label)
	}
}

func TestSubmitSurfacesProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	c := newClient(producer, &fakeAdmin{}, &fakeMetadata{}, testOperator(), "test", testLedgerConfig("audit-topic"))
	if _, err := c.EnsureTopic(context.Background()); err != nil {
		t.Fatalf("EnsureTopic() = %v", err)
	}

	_, err := c.Submit(context.Background(), samplePayload())
	if err == nil {
		t.Fatalf("expected producer error")
	}
	if faults.CategoryOf(err) != faults.Dependency {
		t.Fatalf("category = %s", faults.CategoryOf(err))
	}
}

func TestTopicInfo(t *testing.T) {
	c := newClient(nil, &fakeAdmin{}, &fakeMetadata{offset: 42}, testOperator(), "test", testLedgerConfig("audit-topic"))

	if _, err := c.TopicInfo(context.Background()); err == nil {
		t.Fatalf("expected error before topic resolution")
	}

	if _, err := c.EnsureTopic(context.Background()); err != nil {
		t.Fatalf("EnsureTopic() = %v", err)
	}
	info, err := c.TopicInfo(context.Background())
	if err != nil {
		t.Fatalf("TopicInfo() = %v", err)
	}
	if info.TopicID != "audit-topic" {
		t.Fatalf("topic = %q", info.TopicID)
	}
	if info.SequenceNumber != 42 {
		t.Fatalf("sequence = %d", info.SequenceNumber)
	}
	if info.AdminKey != "0.0.4821" {
		t.Fatalf("admin key = %q", info.AdminKey)
	}
}

func TestPing(t *testing.T) {
	c := newClient(nil, &fakeAdmin{}, &fakeMetadata{}, testOperator(), "test", testLedgerConfig("audit-topic"))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() = %v", err)
	}

	down := newClient(nil, &fakeAdmin{err: errors.New("unreachable")}, &fakeMetadata{}, testOperator(), "test", testLedgerConfig("audit-topic"))
	if err := down.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}
