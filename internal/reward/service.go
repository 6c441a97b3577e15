// Package reward mints incentive tokens for readings the classifier judged
// normal. Minting is explicitly non-critical: a failed mint never invalidates
// the ledger entry that triggered it.
package reward

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"

	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

const mintHint = "reward issuance is non-critical; check the reward topic configuration"

// mintRecord is the message published to the reward topic for a real mint.
type mintRecord struct {
	TokenID       string    `json:"tokenId"`
	AccountID     string    `json:"accountId"`
	Amount        float64   `json:"amount"`
	TransactionID string    `json:"transactionId"`
	MintedAt      time.Time `json:"mintedAt"`
}

// Service mints fixed-denomination reward tokens. Without a configured token
// resource it degrades to simulated mints, which is a deliberate fallback
// rather than a failure path.
type Service struct {
	producer  sarama.SyncProducer
	topic     string
	tokenID   string
	accountID string

	mu      sync.Mutex
	balance float64
}

// NewService builds the reward service over the shared ledger session's
// producer. The producer may be nil when only simulated mints are possible.
func NewService(producer sarama.SyncProducer, cfg config.RewardConfig, rewardTopic, accountID string) *Service {
	return &Service{
		producer:  producer,
		topic:     rewardTopic,
		tokenID:   cfg.TokenID,
		accountID: accountID,
	}
}

// Simulated reports whether mints are satisfied synthetically.
func (s *Service) Simulated() bool {
	return s.tokenID == "" || s.producer == nil
}

// Mint issues amount reward tokens to the session account. In simulated mode
// it fabricates a transaction; in real mode it publishes a mint record to the
// reward topic and credits the running balance.
func (s *Service) Mint(ctx context.Context, amount float64) (models.RewardEvent, error) {
	var event models.RewardEvent

	if amount <= 0 {
		return event, faults.Wrap(faults.NonCritical, "reward", "mint", mintHint,
			errors.New("mint amount must be positive"))
	}
	if err := ctx.Err(); err != nil {
		return event, faults.Wrap(faults.NonCritical, "reward", "mint", mintHint, err)
	}

	transactionID := uuid.NewString()
	if s.Simulated() {
		return models.RewardEvent{
			TokenID:       "simulated",
			Amount:        amount,
			TransactionID: transactionID,
			Simulated:     true,
		}, nil
	}

	record := mintRecord{
		TokenID:       s.tokenID,
		AccountID:     s.accountID,
		Amount:        amount,
		TransactionID: transactionID,
		MintedAt:      time.Now().UTC(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return event, faults.Wrap(faults.NonCritical, "reward", "mint", mintHint, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(transactionID),
		Value: sarama.ByteEncoder(value),
	}
	sent := make(chan error, 1)
	go func() {
		_, _, err := s.producer.SendMessage(msg)
		sent <- err
	}()
	select {
	case <-ctx.Done():
		return event, faults.Wrap(faults.NonCritical, "reward", "mint", mintHint, ctx.Err())
	case err := <-sent:
		if err != nil {
			return event, faults.Wrap(faults.NonCritical, "reward", "mint", mintHint, err)
		}
	}

	s.mu.Lock()
	s.balance += amount
	s.mu.Unlock()

	return models.RewardEvent{
		TokenID:       s.tokenID,
		Amount:        amount,
		TransactionID: transactionID,
		Simulated:     false,
	}, nil
}

// Balance reports the session account's reward-token balance. Zero when no
// token resource is configured.
func (s *Service) Balance() float64 {
	if s.Simulated() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// TokenID reports the configured token resource, or empty in simulated mode.
func (s *Service) TokenID() string {
	return s.tokenID
}
