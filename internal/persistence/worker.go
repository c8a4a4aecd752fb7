package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"log"
	"time"

	"ShieldVault/internal/core"
	"ShieldVault/internal/ingestion"
	"ShieldVault/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to
// Postgres. This goroutine runs independently from the deterministic
// core. The persist channel uses BLOCKING sends from the core, so if
// this worker falls behind, the core stalls — guaranteeing no applied
// action is lost.
//
// Venue signals are forwarded to the publisher only after their batch
// commits: external venues never see an action the log could lose.
type PersistenceWorker struct {
	writer       *ActionLogWriter
	inputChan    <-chan core.CoreOutput
	signalChan   chan<- ingestion.PublishableSignal // Optional; nil disables publishing
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	signalChan chan<- ingestion.PublishableSignal,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewActionLogWriter(db),
		inputChan:    inputChan,
		signalChan:   signalChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

type pendingBatch struct {
	actions    []ActionRow
	nullifiers []NullifierRow
	signals    []ingestion.PublishableSignal
}

func (b *pendingBatch) reset() {
	b.actions = b.actions[:0]
	b.nullifiers = b.nullifiers[:0]
	b.signals = b.signals[:0]
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		actions:    make([]ActionRow, 0, pw.batchSize),
		nullifiers: make([]NullifierRow, 0, pw.batchSize),
		signals:    make([]ingestion.PublishableSignal, 0, pw.batchSize),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining with a background context
			if len(batch.actions) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.actions) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			pw.appendOutput(batch, output)

			if len(batch.actions) >= pw.batchSize {
				pw.flushWithRetry(ctx, batch)
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.actions) > 0 {
				pw.flushWithRetry(ctx, batch)
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

func (pw *PersistenceWorker) appendOutput(batch *pendingBatch, output core.CoreOutput) {
	env := output.Envelope

	var userID *string
	if env.User != nil {
		s := env.User.String()
		userID = &s
	}

	batch.actions = append(batch.actions, ActionRow{
		Sequence:       env.Sequence,
		ActionType:     env.ActionType.String(),
		IdempotencyKey: env.IdempotencyKey,
		UserID:         userID,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	})

	if sig := output.Signal; sig != nil {
		if sig.Nullifier != nil && sig.User != nil {
			batch.nullifiers = append(batch.nullifiers, NullifierRow{
				Owner:      sig.User.String(),
				Nullifier:  sig.Nullifier[:],
				Sequence:   env.Sequence,
				ConsumedAt: env.Timestamp,
			})
		}

		if pw.signalChan != nil {
			pub := ingestion.PublishableSignal{
				Sequence:    env.Sequence,
				Venue:       sig.Venue,
				Operation:   sig.Operation,
				UserID:      userID,
				DestChainID: sig.DestChainID,
				StateHash:   hex.EncodeToString(env.StateHash[:]),
				Timestamp:   env.Timestamp,
			}
			if !sig.Commitment.IsZero() {
				pub.Commitment = sig.Commitment.Hex()
			}
			if sig.Nullifier != nil {
				pub.Nullifier = sig.Nullifier.Hex()
			}
			batch.signals = append(batch.signals, pub)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// NEVER drops actions — it retries until the write succeeds or the
// context is cancelled, then makes one final attempt on shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, actions=%d)",
				attempt, backoff, len(batch.actions))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush on shutdown failed: %v", err)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	// Actions and their nullifiers commit atomically
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteActionBatch(ctx, tx, batch.actions); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_actions").Inc()
		}
		return err
	}

	if err := pw.writer.WriteNullifierBatch(ctx, tx, batch.nullifiers); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_nullifiers").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	// Durable — now the venues may hear about it. Non-blocking: a slow
	// publisher must not stall persistence.
	for _, sig := range batch.signals {
		select {
		case pw.signalChan <- sig:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.actions)))
		pw.metrics.PersistActionsWritten.Add(float64(len(batch.actions)))
		if n := len(batch.actions); n > 0 {
			pw.metrics.PersistLastSequence.Set(float64(batch.actions[n-1].Sequence))
		}
	}

	return nil
}

// GetWriter returns the underlying writer.
func (pw *PersistenceWorker) GetWriter() *ActionLogWriter {
	return pw.writer
}
