// Package ledger owns the append-only audit topic on the Kafka ledger
// network: lazy topic provisioning, message submission, and metadata reads.
// Sequence numbers are broker-assigned offsets; this client imposes no
// ordering of its own.
package ledger

import (
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/elghonerox/solarsentinel-depin/internal/config"
)

// Session is the single long-lived network session shared by the ledger
// client and the reward service. Operator identity and network selection are
// fixed at construction and never mutated afterwards.
type Session struct {
	client   sarama.Client
	operator config.OperatorConfig
	network  string
}

// NewSession dials the ledger network. The production network authenticates
// the operator credential over SASL/PLAIN; the test network runs plaintext
// with the operator identity as client ID.
func NewSession(cfg config.LedgerConfig, operator config.OperatorConfig) (*Session, error) {
	sc := sarama.NewConfig()
	sc.ClientID = clientID(operator.AccountID)
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 0 // single attempt per submission
	sc.Producer.Timeout = cfg.SubmitTimeout
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Net.DialTimeout = cfg.RequestTimeout
	sc.Net.ReadTimeout = cfg.RequestTimeout
	sc.Net.WriteTimeout = cfg.RequestTimeout

	if cfg.Network == "production" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = operator.AccountID
		sc.Net.SASL.Password = operator.Credential
	}

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("dial ledger network: %w", err)
	}
	return &Session{client: client, operator: operator, network: cfg.Network}, nil
}

// Operator reports the session's operator identity.
func (s *Session) Operator() config.OperatorConfig {
	return s.operator
}

// Network reports the selected ledger network.
func (s *Session) Network() string {
	return s.network
}

// Client exposes the underlying sarama client for producer and admin
// construction.
func (s *Session) Client() sarama.Client {
	return s.client
}

// Close tears down the network session.
func (s *Session) Close() error {
	return s.client.Close()
}

func clientID(account string) string {
	if account == "" {
		return "solarsentinel"
	}
	return "solarsentinel-" + account
}
