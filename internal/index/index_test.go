package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDisabledIndexDegradesToEmpty(t *testing.T) {
	ix := Disabled(discardLogger())

	if ix.Enabled() {
		t.Fatalf("disabled index reports enabled")
	}
	entries := ix.Recent(context.Background(), 10)
	if entries == nil || len(entries) != 0 {
		t.Fatalf("Recent() = %v, want empty non-nil slice", entries)
	}
	// Recording into a disabled index is a no-op, not a panic.
	ix.Record(models.LedgerEntry{TransactionID: "tx-1"})
	if err := ix.Health(context.Background()); err == nil {
		t.Fatalf("disabled index should report unhealthy")
	}
}

func TestEntryPointCarriesAuditFields(t *testing.T) {
	entry := models.LedgerEntry{
		TopicID:        "audit-topic",
		TransactionID:  "tx-42",
		SequenceNumber: 7,
		Payload: models.Payload{
			Sample: models.TelemetrySample{
				DeviceID:    "panel-000007",
				Voltage:     11.8,
				Temperature: 28.0,
				PowerOutput: 205,
				Location:    models.Location{Region: "nairobi"},
			},
			Verdict: models.ClassificationVerdict{
				Label:        models.VerdictNormal,
				Confidence:   0.94,
				ModelVersion: "v1.0-isolation-forest",
			},
		},
		SubmittedAt: time.Now().UTC(),
	}

	point := entryPoint(entry)
	if point.Name() != measurement {
		t.Fatalf("measurement = %q", point.Name())
	}

	tags := make(map[string]string)
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["deviceId"] != "panel-000007" || tags["verdict"] != "Normal" || tags["topicId"] != "audit-topic" {
		t.Fatalf("tags = %v", tags)
	}

	fields := make(map[string]interface{})
	for _, field := range point.FieldList() {
		fields[field.Key] = field.Value
	}
	if fields["transactionId"] != "tx-42" {
		t.Fatalf("transactionId field = %v", fields["transactionId"])
	}
	if fields["voltage"] != 11.8 {
		t.Fatalf("voltage field = %v", fields["voltage"])
	}
	if fields["sequenceNumber"] != int64(7) {
		t.Fatalf("sequenceNumber field = %v", fields["sequenceNumber"])
	}
}

func TestEntryFromRecordRebuildsEntry(t *testing.T) {
	now := time.Now().UTC()
	record := query.NewFluxRecord(0, map[string]interface{}{
		"_time":          now,
		"topicId":        "audit-topic",
		"transactionId":  "tx-19",
		"sequenceNumber": int64(19),
		"deviceId":       "panel-000019",
		"region":         "mombasa",
		"voltage":        10.7,
		"temperature":    36.5,
		"powerOutput":    140.0,
		"verdict":        "FailureLikely",
		"confidence":     0.66,
		"modelVersion":   "v1.0-isolation-forest",
	})

	entry := entryFromRecord(record)
	if entry.TopicID != "audit-topic" || entry.TransactionID != "tx-19" || entry.SequenceNumber != 19 {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Payload.Sample.DeviceID != "panel-000019" || entry.Payload.Sample.Voltage != 10.7 {
		t.Fatalf("sample = %+v", entry.Payload.Sample)
	}
	if entry.Payload.Verdict.Label != models.VerdictFailureLikely || entry.Payload.Verdict.Confidence != 0.66 {
		t.Fatalf("verdict = %+v", entry.Payload.Verdict)
	}
	if !entry.SubmittedAt.Equal(now) {
		t.Fatalf("submittedAt = %v", entry.SubmittedAt)
	}
}

func TestClampLimitBoundsHistoryReads(t *testing.T) {
	cases := []struct {
		limit int
		want  int
	}{
		{-1, 25},
		{0, 25},
		{10, 10},
		{1000, 1000},
		{2_000_000, 1000},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.limit); got != tc.want {
			t.Fatalf("clampLimit(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestRecentQueryShape(t *testing.T) {
	q := recentQuery("solar-ledger", 25)
	for _, want := range []string{`from(bucket: "solar-ledger")`, `ledger_entries`, `limit(n: 25)`, "desc: true"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
}

func TestEntryFromMessage(t *testing.T) {
	payload := models.Payload{
		Sample: models.TelemetrySample{
			DeviceID:    "panel-000003",
			Voltage:     10.2,
			Temperature: 44.0,
			PowerOutput: 120,
		},
		Verdict: models.ClassificationVerdict{Label: models.VerdictFailureLikely, Confidence: 0.71},
	}
	value, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	now := time.Now().UTC()
	msg := &sarama.ConsumerMessage{
		Topic:     "audit-topic",
		Key:       []byte("tx-77"),
		Value:     value,
		Offset:    31,
		Timestamp: now,
	}

	entry, err := entryFromMessage(msg)
	if err != nil {
		t.Fatalf("entryFromMessage() = %v", err)
	}
	if entry.TransactionID != "tx-77" || entry.SequenceNumber != 31 || entry.TopicID != "audit-topic" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Payload.Verdict.Label != models.VerdictFailureLikely {
		t.Fatalf("verdict = %s", entry.Payload.Verdict.Label)
	}
	if !entry.SubmittedAt.Equal(now) {
		t.Fatalf("submittedAt = %v", entry.SubmittedAt)
	}
}

func TestEntryFromMessageRejectsGarbage(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "audit-topic", Value: []byte("not json")}
	if _, err := entryFromMessage(msg); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}
