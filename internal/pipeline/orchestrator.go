// Package pipeline sequences one telemetry reading through classification,
// ledger submission, and reward issuance. The failure policy is asymmetric:
// nothing is written without a verdict, no reward is attempted without a
// durable ledger entry, and a failed reward mint never undoes a written
// entry.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/elghonerox/solarsentinel-depin/internal/classifier"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/metrics"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

// Generator produces synthetic telemetry samples.
type Generator interface {
	Sample() models.TelemetrySample
}

// Classifier judges a sample's physical features.
type Classifier interface {
	Predict(ctx context.Context, f classifier.Features) (models.ClassificationVerdict, error)
}

// Ledger owns the append-only audit topic.
type Ledger interface {
	EnsureTopic(ctx context.Context) (string, error)
	Submit(ctx context.Context, payload models.Payload) (models.LedgerEntry, error)
}

// Rewarder mints reward tokens for normal verdicts.
type Rewarder interface {
	Mint(ctx context.Context, amount float64) (models.RewardEvent, error)
}

// RunRequest carries optional caller-supplied sample fields and, when the
// caller has a pre-computed verdict, its label and confidence. An empty
// request asks the orchestrator to generate and classify internally.
type RunRequest struct {
	DeviceID    string   `json:"deviceId,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	PowerOutput *float64 `json:"powerOutput,omitempty"`
	Region      string   `json:"region,omitempty"`
	Label       string   `json:"label,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

func (r RunRequest) empty() bool {
	return r.DeviceID == "" && r.Voltage == nil && r.Temperature == nil &&
		r.PowerOutput == nil && r.Label == "" && r.Confidence == nil
}

// Options tunes the orchestrator's per-stage bounds.
type Options struct {
	MintAmount      float64
	ClassifyTimeout time.Duration
	LedgerTimeout   time.Duration
	MintTimeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.MintAmount <= 0 {
		o.MintAmount = 1.0
	}
	if o.ClassifyTimeout <= 0 {
		o.ClassifyTimeout = 5 * time.Second
	}
	if o.LedgerTimeout <= 0 {
		o.LedgerTimeout = 30 * time.Second
	}
	if o.MintTimeout <= 0 {
		o.MintTimeout = 10 * time.Second
	}
}

// Orchestrator drives independent pipeline runs over shared read-only
// collaborators.
type Orchestrator struct {
	generator  Generator
	classifier Classifier
	ledger     Ledger
	reward     Rewarder
	accountID  string
	opts       Options
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New assembles an orchestrator.
func New(generator Generator, cls Classifier, ledger Ledger, reward Rewarder, accountID string, opts Options, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		generator:  generator,
		classifier: cls,
		ledger:     ledger,
		reward:     reward,
		accountID:  accountID,
		opts:       opts,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes one pipeline run. Validation failures and dependency failures
// abort the run; a reward mint failure is absorbed into the result.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*models.PipelineResult, error) {
	sample, verdict, err := o.resolveSample(req)
	if err != nil {
		o.metrics.Runs.WithLabelValues(metrics.OutcomeFailedValidation).Inc()
		return nil, err
	}

	if verdict == nil {
		v, err := o.classify(ctx, sample)
		if err != nil {
			o.metrics.Runs.WithLabelValues(metrics.OutcomeFailedClassification).Inc()
			return nil, err
		}
		verdict = &v
	}

	entry, err := o.submit(ctx, models.Payload{Sample: sample, Verdict: *verdict})
	if err != nil {
		o.metrics.Runs.WithLabelValues(metrics.OutcomeFailedLedger).Inc()
		return nil, err
	}
	o.metrics.LedgerSubmissions.Inc()

	result := &models.PipelineResult{
		TransactionID:  entry.TransactionID,
		TopicID:        entry.TopicID,
		SequenceNumber: entry.SequenceNumber,
		AccountID:      o.accountID,
		Timestamp:      entry.SubmittedAt,
	}

	if verdict.Label == models.VerdictNormal {
		o.attemptReward(ctx, result)
	}

	o.metrics.Runs.WithLabelValues(metrics.OutcomeCompleted).Inc()
	return result, nil
}

// resolveSample validates caller input or generates a fresh sample. It
// returns a non-nil verdict only when the caller supplied one.
func (o *Orchestrator) resolveSample(req RunRequest) (models.TelemetrySample, *models.ClassificationVerdict, error) {
	if req.empty() {
		return o.generator.Sample(), nil, nil
	}

	var sample models.TelemetrySample
	if req.DeviceID == "" {
		return sample, nil, faults.New(faults.Validation, "supply a deviceId with caller-provided samples", "deviceId is required")
	}
	for _, field := range []struct {
		name  string
		value *float64
	}{
		{"voltage", req.Voltage},
		{"temperature", req.Temperature},
		{"powerOutput", req.PowerOutput},
	} {
		if field.value == nil {
			return sample, nil, faults.New(faults.Validation, "supply voltage, temperature and powerOutput", field.name+" is required")
		}
		if math.IsNaN(*field.value) || math.IsInf(*field.value, 0) {
			return sample, nil, faults.New(faults.Validation, "supply finite numeric readings", field.name+" must be a finite number")
		}
	}

	sample = models.TelemetrySample{
		DeviceID:    req.DeviceID,
		Timestamp:   time.Now().UTC(),
		Voltage:     *req.Voltage,
		Temperature: *req.Temperature,
		PowerOutput: *req.PowerOutput,
		Location:    models.Location{Region: req.Region},
	}

	if req.Label == "" {
		if req.Confidence != nil {
			return sample, nil, faults.New(faults.Validation, "supply a label with the confidence", "label is required when confidence is set")
		}
		return sample, nil, nil
	}

	label := models.VerdictLabel(req.Label)
	if label != models.VerdictNormal && label != models.VerdictFailureLikely {
		return sample, nil, faults.New(faults.Validation, "label must be Normal or FailureLikely", "unrecognized label "+req.Label)
	}
	if req.Confidence == nil {
		return sample, nil, faults.New(faults.Validation, "supply a confidence with the label", "confidence is required with a pre-computed verdict")
	}

	verdict := models.ClassificationVerdict{
		Label:        label,
		Confidence:   *req.Confidence,
		ModelVersion: "caller-supplied",
	}
	return sample, &verdict, nil
}

func (o *Orchestrator) classify(ctx context.Context, sample models.TelemetrySample) (models.ClassificationVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ClassifyTimeout)
	defer cancel()

	start := time.Now()
	// Only the physical features cross this boundary; the simulation ground
	// truth stays behind it.
	verdict, err := o.classifier.Predict(ctx, classifier.Features{
		Voltage:     sample.Voltage,
		Temperature: sample.Temperature,
		PowerOutput: sample.PowerOutput,
	})
	o.metrics.StageLatency.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	if err != nil {
		return verdict, err
	}
	return verdict, nil
}

func (o *Orchestrator) submit(ctx context.Context, payload models.Payload) (models.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.LedgerTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		o.metrics.StageLatency.WithLabelValues("ledger").Observe(time.Since(start).Seconds())
	}()

	if _, err := o.ledger.EnsureTopic(ctx); err != nil {
		return models.LedgerEntry{}, err
	}
	return o.ledger.Submit(ctx, payload)
}

// attemptReward is the one intentional exception to fail-fast: issuance
// failures are logged, flagged on the result, and absorbed.
func (o *Orchestrator) attemptReward(ctx context.Context, result *models.PipelineResult) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.MintTimeout)
	defer cancel()

	start := time.Now()
	event, err := o.reward.Mint(ctx, o.opts.MintAmount)
	o.metrics.StageLatency.WithLabelValues("reward").Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Warn("reward mint failed, keeping ledger entry",
			"transactionId", result.TransactionID, "error", err)
		o.metrics.RewardMints.WithLabelValues(metrics.MintFailed).Inc()
		result.RewardError = err.Error()
		return
	}

	mode := metrics.MintReal
	if event.Simulated {
		mode = metrics.MintSimulated
	}
	o.metrics.RewardMints.WithLabelValues(mode).Inc()

	result.TokensEarned = event.Amount
	result.TokenID = event.TokenID
	result.Reward = &event
}
