package models

import (
	"time"
)

// ConditionLabel is the simulation ground truth for a generated sample. It is
// internal metadata only and must never be forwarded to the classifier.
type ConditionLabel string

const (
	ConditionNormal      ConditionLabel = "normal"
	ConditionDust        ConditionLabel = "dust"
	ConditionOverheat    ConditionLabel = "overheat"
	ConditionVoltageDrop ConditionLabel = "voltage-drop"
)

// VerdictLabel is the classifier's binary judgment on a sample.
type VerdictLabel string

const (
	VerdictNormal        VerdictLabel = "Normal"
	VerdictFailureLikely VerdictLabel = "FailureLikely"
)

// Location pins a panel to a deployment region.
type Location struct {
	Region    string  `json:"region"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TelemetrySample is one reading from a monitored solar panel. Immutable once
// generated.
type TelemetrySample struct {
	DeviceID       string         `json:"deviceId"`
	Timestamp      time.Time      `json:"timestamp"`
	Voltage        float64        `json:"voltage"`
	Temperature    float64        `json:"temperature"`
	PowerOutput    float64        `json:"powerOutput"`
	ConditionLabel ConditionLabel `json:"conditionLabel,omitempty"`
	Location       Location       `json:"location"`
}

// ClassificationVerdict is the classifier's judgment on a single sample.
type ClassificationVerdict struct {
	Label        VerdictLabel `json:"label"`
	Confidence   float64      `json:"confidence"`
	ModelVersion string       `json:"modelVersion"`
}

// LedgerEntry is one immutable record on the ledger topic. The sequence number
// is assigned by the broker at submission, never by this process.
type LedgerEntry struct {
	TopicID        string    `json:"topicId"`
	TransactionID  string    `json:"transactionId"`
	SequenceNumber int64     `json:"sequenceNumber"`
	Payload        Payload   `json:"payload"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Payload is the serialized sample-plus-verdict carried by a ledger entry.
type Payload struct {
	Sample  TelemetrySample       `json:"sample"`
	Verdict ClassificationVerdict `json:"verdict"`
}

// RewardEvent records one reward-token mint. Simulated is true when no real
// token resource is configured and the mint was satisfied synthetically.
type RewardEvent struct {
	TokenID       string  `json:"tokenId"`
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transactionId"`
	Simulated     bool    `json:"simulated"`
}

// TopicInfo is read-only metadata about the ledger topic.
type TopicInfo struct {
	TopicID        string `json:"topicId"`
	Memo           string `json:"memo"`
	SequenceNumber int64  `json:"sequenceNumber"`
	AdminKey       string `json:"adminKey"`
}

// PipelineResult is the outcome of one completed pipeline run: a ledger
// reference plus zero or one reward. RewardError carries the absorbed mint
// failure when the verdict was Normal but issuance failed.
type PipelineResult struct {
	TransactionID  string       `json:"transactionId"`
	TopicID        string       `json:"topicId"`
	SequenceNumber int64        `json:"sequenceNumber"`
	TokensEarned   float64      `json:"tokensEarned"`
	TokenID        string       `json:"tokenId,omitempty"`
	AccountID      string       `json:"accountId"`
	Timestamp      time.Time    `json:"timestamp"`
	Reward         *RewardEvent `json:"reward,omitempty"`
	RewardError    string       `json:"rewardError,omitempty"`
}
