package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SignalPublisher publishes venue signals to NATS for the external privacy
// venues (private transfer network, dark pool, bridge relay, compliance
// oracle). Signals carry commitments only; no plaintext amount ever leaves
// the process. Subjects follow the pattern vault.venues.{venue}.{operation}.
type SignalPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableSignal
}

// PublishableSignal is a venue notification ready for outbound publishing,
// emitted only after the originating action is durably persisted.
type PublishableSignal struct {
	Sequence    int64     `json:"sequence"`
	Venue       string    `json:"venue"`
	Operation   string    `json:"operation"`
	UserID      *string   `json:"user_id,omitempty"`
	Commitment  string    `json:"commitment,omitempty"` // hex
	Nullifier   string    `json:"nullifier,omitempty"`  // hex
	DestChainID uint64    `json:"dest_chain_id,omitempty"`
	StateHash   string    `json:"state_hash"` // hex
	Timestamp   time.Time `json:"timestamp"`
}

func NewSignalPublisher(js jetstream.JetStream, inputChan <-chan PublishableSignal) *SignalPublisher {
	return &SignalPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the publisher loop.
func (sp *SignalPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-sp.inputChan:
			if !ok {
				return nil
			}

			if err := sp.publish(ctx, sig); err != nil {
				log.Printf("WARN: venue signal publish failed seq=%d venue=%s: %v", sig.Sequence, sig.Venue, err)
				// Non-fatal: venues can reconcile from the action log
			}
		}
	}
}

func (sp *SignalPublisher) publish(ctx context.Context, sig PublishableSignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	subject := fmt.Sprintf("vault.venues.%s.%s", sig.Venue, sig.Operation)
	_, err = sp.js.Publish(ctx, subject, data)
	return err
}

// EnsureSignalStream creates the outbound venue signal stream.
func EnsureSignalStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_VENUE_SIGNALS",
		Subjects:  []string{"vault.venues.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create signal stream: %w", err)
	}
	log.Println("INFO: ensured signal stream VAULT_VENUE_SIGNALS")
	return nil
}
