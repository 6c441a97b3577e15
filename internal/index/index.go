// Package index mirrors ledger entries into an InfluxDB secondary index so
// historical reads never touch the ledger network. The index is best-effort:
// when it is unconfigured or unreachable, reads degrade to empty results and
// the audit log on the ledger remains the source of truth.
package index

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

const measurement = "ledger_entries"

// maxRecent bounds one history read; larger requests are clamped, not
// rejected, mirroring the batch endpoint's cap.
const maxRecent = 1000

// Index wraps the InfluxDB client behind the two operations the pipeline
// needs: recording entries and reading recent history.
type Index struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	logger   *slog.Logger
	enabled  bool
}

// New initializes the InfluxDB client. Connectivity is not verified here; a
// cold index only degrades reads, it never blocks startup.
func New(cfg config.IndexConfig, logger *slog.Logger) *Index {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts = opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.BatchTimeout > 0 {
		opts = opts.SetFlushInterval(uint(cfg.BatchTimeout.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Index{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		logger:   logger,
		enabled:  true,
	}
}

// Disabled returns an index that records nothing and always reads empty.
func Disabled(logger *slog.Logger) *Index {
	return &Index{logger: logger}
}

// Enabled reports whether a real index is configured.
func (ix *Index) Enabled() bool {
	return ix != nil && ix.enabled
}

// Record mirrors one ledger entry into the index. Writes are asynchronous and
// batched by the client; failures are logged by the error channel drain.
func (ix *Index) Record(entry models.LedgerEntry) {
	if !ix.Enabled() {
		return
	}
	ix.writeAPI.WritePoint(entryPoint(entry))
}

// DrainErrors logs asynchronous write failures until ctx is done.
func (ix *Index) DrainErrors(ctx context.Context) {
	if !ix.Enabled() {
		return
	}
	errCh := ix.writeAPI.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				return
			}
			ix.logger.Warn("index write failed", "error", err)
		}
	}
}

// Recent returns up to limit of the most recent ledger entries, newest first.
// Any index failure is a degraded-but-valid empty result, not an error.
func (ix *Index) Recent(ctx context.Context, limit int) []models.LedgerEntry {
	if !ix.Enabled() {
		return []models.LedgerEntry{}
	}
	limit = clampLimit(limit)

	result, err := ix.queryAPI.Query(ctx, recentQuery(ix.bucket, limit))
	if err != nil {
		ix.logger.Warn("index query failed, returning empty history", "error", err)
		return []models.LedgerEntry{}
	}

	entries := make([]models.LedgerEntry, 0, limit)
	for result.Next() {
		entries = append(entries, entryFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		ix.logger.Warn("index result iteration failed, returning empty history", "error", err)
		return []models.LedgerEntry{}
	}
	return entries
}

// Health verifies index connectivity for the status aggregator.
func (ix *Index) Health(ctx context.Context) error {
	if !ix.Enabled() {
		return fmt.Errorf("index not configured")
	}
	_, err := ix.client.Health(ctx)
	return err
}

// Close flushes pending writes and tears down the client.
func (ix *Index) Close() {
	if !ix.Enabled() {
		return
	}
	ix.writeAPI.Flush()
	ix.client.Close()
}

func entryPoint(entry models.LedgerEntry) *write.Point {
	sample := entry.Payload.Sample
	verdict := entry.Payload.Verdict
	return write.NewPoint(
		measurement,
		map[string]string{
			"topicId":  entry.TopicID,
			"deviceId": sample.DeviceID,
			"region":   sample.Location.Region,
			"verdict":  string(verdict.Label),
		},
		map[string]interface{}{
			"transactionId":  entry.TransactionID,
			"sequenceNumber": entry.SequenceNumber,
			"voltage":        sample.Voltage,
			"temperature":    sample.Temperature,
			"powerOutput":    sample.PowerOutput,
			"confidence":     verdict.Confidence,
			"modelVersion":   verdict.ModelVersion,
		},
		entry.SubmittedAt,
	)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 25
	}
	if limit > maxRecent {
		return maxRecent
	}
	return limit
}

func recentQuery(bucket string, limit int) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -30d)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`, bucket, measurement, limit)
}

func entryFromRecord(record *query.FluxRecord) models.LedgerEntry {
	entry := models.LedgerEntry{SubmittedAt: record.Time()}
	if v, ok := record.ValueByKey("topicId").(string); ok {
		entry.TopicID = v
	}
	if v, ok := record.ValueByKey("transactionId").(string); ok {
		entry.TransactionID = v
	}
	if v, ok := record.ValueByKey("sequenceNumber").(int64); ok {
		entry.SequenceNumber = v
	}
	if v, ok := record.ValueByKey("deviceId").(string); ok {
		entry.Payload.Sample.DeviceID = v
	}
	if v, ok := record.ValueByKey("region").(string); ok {
		entry.Payload.Sample.Location.Region = v
	}
	if v, ok := record.ValueByKey("voltage").(float64); ok {
		entry.Payload.Sample.Voltage = v
	}
	if v, ok := record.ValueByKey("temperature").(float64); ok {
		entry.Payload.Sample.Temperature = v
	}
	if v, ok := record.ValueByKey("powerOutput").(float64); ok {
		entry.Payload.Sample.PowerOutput = v
	}
	if v, ok := record.ValueByKey("verdict").(string); ok {
		entry.Payload.Verdict.Label = models.VerdictLabel(v)
	}
	if v, ok := record.ValueByKey("confidence").(float64); ok {
		entry.Payload.Verdict.Confidence = v
	}
	if v, ok := record.ValueByKey("modelVersion").(string); ok {
		entry.Payload.Verdict.ModelVersion = v
	}
	entry.Payload.Sample.Timestamp = record.Time()
	return entry
}
