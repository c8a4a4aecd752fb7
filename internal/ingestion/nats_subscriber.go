package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds actions
// into the deterministic core via the actionChan. NATS JetStream is the
// primary high-throughput ingestion surface; each action category gets its
// own subject for independent scaling.
type NATSSubscriber struct {
	js         jetstream.JetStream
	actionChan chan<- RawAction
	consumers  []jetstream.ConsumeContext
}

// RawAction is the received-but-untyped message from NATS, ready for the
// shell to validate and convert into a typed action.Action before sending
// to the core.
type RawAction struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to action types.
type SubjectConfig struct {
	Subject      string
	ActionType   string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "vault.actions.init.>", ActionType: "Initialize", ConsumerName: "vault-init", StreamName: "VAULT_ADMIN"},
		{Subject: "vault.actions.deposits.>", ActionType: "Deposit", ConsumerName: "vault-deposits", StreamName: "VAULT_TRANSFERS"},
		{Subject: "vault.actions.withdrawals.>", ActionType: "Withdraw", ConsumerName: "vault-withdrawals", StreamName: "VAULT_TRANSFERS"},
		{Subject: "vault.actions.lending.>", ActionType: "Lend", ConsumerName: "vault-lending", StreamName: "VAULT_LENDING"},
		{Subject: "vault.actions.swaps.>", ActionType: "Swap", ConsumerName: "vault-swaps", StreamName: "VAULT_SWAPS"},
		{Subject: "vault.actions.bridge.>", ActionType: "Bridge", ConsumerName: "vault-bridge", StreamName: "VAULT_BRIDGE"},
		{Subject: "vault.actions.compliance.>", ActionType: "Compliance", ConsumerName: "vault-compliance", StreamName: "VAULT_COMPLIANCE"},
		{Subject: "vault.actions.admin.>", ActionType: "AdminControl", ConsumerName: "vault-admin", StreamName: "VAULT_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, actionChan chan<- RawAction) *NATSSubscriber {
	return &NATSSubscriber{
		js:         js,
		actionChan: actionChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawAction{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.actionChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h: long enough to
// replay after an incident, short enough to bound disk.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "VAULT_TRANSFERS",
			Subjects:  []string{"vault.actions.deposits.>", "vault.actions.withdrawals.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_LENDING",
			Subjects:  []string{"vault.actions.lending.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_SWAPS",
			Subjects:  []string{"vault.actions.swaps.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_BRIDGE",
			Subjects:  []string{"vault.actions.bridge.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_COMPLIANCE",
			Subjects:  []string{"vault.actions.compliance.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_ADMIN",
			Subjects:  []string{"vault.actions.admin.>", "vault.actions.init.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
