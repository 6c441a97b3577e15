// Package classifier talks to the external AI server that judges whether a
// reading looks like an impending panel failure. The model lives behind an
// HTTP contract; training and tuning happen on the other side of it.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

const reachHint = "ensure classification service is reachable"

// HTTPDoer describes the HTTP client used by the classifier service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Features is the classifier's input: the three physical measurements and
// nothing else. The simulation ground-truth label never crosses this boundary.
type Features struct {
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
	PowerOutput float64 `json:"power_output"`
}

type predictResponse struct {
	Prediction   string  `json:"prediction"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	Error        string  `json:"error"`
}

// HealthStatus reports the AI server's readiness.
type HealthStatus struct {
	Status          string `json:"status"`
	ModelTrained    bool   `json:"model_trained"`
	ModelVersion    string `json:"model_version"`
	TrainingSamples int    `json:"training_samples"`
}

// Client is a single-attempt, bounded-timeout classification gateway client.
type Client struct {
	baseURL string
	timeout time.Duration
	client  HTTPDoer
}

// NewClient builds a classifier client from configuration.
func NewClient(cfg config.ClassifierConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout: cfg.Timeout,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// NewClientWithDoer builds a client around an injected HTTP doer.
func NewClientWithDoer(baseURL string, timeout time.Duration, doer HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		client:  doer,
	}
}

// Predict submits the sample's physical features and returns the verdict.
// One attempt only; any transport or timeout failure is a dependency fault
// because no audit entry can be written without a verdict.
func (c *Client) Predict(ctx context.Context, f Features) (models.ClassificationVerdict, error) {
	var verdict models.ClassificationVerdict

	body, err := json.Marshal(f)
	if err != nil {
		return verdict, faults.Wrap(faults.Dependency, "classifier", "encode request", reachHint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return verdict, faults.Wrap(faults.Dependency, "classifier", "build request", reachHint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return verdict, faults.Wrap(faults.Dependency, "classifier", "predict", reachHint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return verdict, faults.Wrap(faults.Dependency, "classifier", "read response", reachHint, err)
	}

	var decoded predictResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return verdict, faults.Wrap(faults.Dependency, "classifier", "decode response", reachHint, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return verdict, faults.Wrap(faults.Dependency, "classifier", "predict", reachHint, fmt.Errorf("%s", msg))
	}

	label, err := parseLabel(decoded.Prediction)
	if err != nil {
		return verdict, faults.Wrap(faults.Dependency, "classifier", "predict", reachHint, err)
	}

	// Confidence is contractually in [0,1]; it is passed through unchanged.
	verdict = models.ClassificationVerdict{
		Label:        label,
		Confidence:   decoded.Confidence,
		ModelVersion: decoded.ModelVersion,
	}
	return verdict, nil
}

// Health polls the AI server's liveness endpoint.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return status, faults.Wrap(faults.Dependency, "classifier", "build health request", reachHint, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return status, faults.Wrap(faults.Dependency, "classifier", "health", reachHint, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, faults.Wrap(faults.Dependency, "classifier", "decode health response", reachHint, err)
	}
	return status, nil
}

func parseLabel(prediction string) (models.VerdictLabel, error) {
	switch strings.TrimSpace(prediction) {
	case "Normal":
		return models.VerdictNormal, nil
	case "Failure Likely", "FailureLikely":
		return models.VerdictFailureLikely, nil
	default:
		return "", fmt.Errorf("unrecognized prediction %q", prediction)
	}
}
