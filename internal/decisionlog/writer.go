package decisionlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
)

// QueueDepth bounds the in-memory work queue between the dispatch engine's
// calling goroutines and the single background writer.
const QueueDepth = 4096

type entryKind int

const (
	kindBatch entryKind = iota
	kindRejection
	kindAutoAccept
	kindAccept
)

type entry struct {
	kind       entryKind
	batch      dispatch.BatchDecisionRecord
	rejection  predictor.RejectionRecord
	autoAccept dispatch.AutoAcceptDecisionRecord
	accept     dispatch.AcceptRecord
}

// acceptEvent is the summary published to kafka once a ride is assigned,
// mirroring the teacher's MatchResult published to "ride-matches".
type acceptEvent struct {
	OrderID     string    `json:"order_id"`
	DriverID    string    `json:"driver_id"`
	BatchNumber int       `json:"batch_number"`
	ResponseMs  int64     `json:"response_ms"`
	MatchedAt   time.Time `json:"matched_at"`
}

// Writer is the bounded work queue and background writer backing
// dispatch.DecisionLogger. Entries that can't be enqueued without blocking
// are dropped, consistent with the engine's "decision-log writes are
// fire-and-forget" invariant: a dispatch decision is never held up by a
// slow or unavailable log sink.
type Writer struct {
	store Store
	kafka *kafka.Writer
	queue chan entry
	done  chan struct{}
}

// NewWriter starts the background writer goroutine. kafkaBrokers may be
// empty, in which case accept events are only persisted, never published.
func NewWriter(store Store, kafkaBrokers string) *Writer {
	var producer *kafka.Writer
	if kafkaBrokers != "" {
		producer = &kafka.Writer{
			Addr:     kafka.TCP(kafkaBrokers),
			Topic:    "dispatch-accepts",
			Balancer: &kafka.LeastBytes{},
		}
	}
	w := &Writer{
		store: store,
		kafka: producer,
		queue: make(chan entry, QueueDepth),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) enqueue(e entry) {
	select {
	case w.queue <- e:
	default:
		log.Warn().Int("kind", int(e.kind)).Msg("decision log queue full, dropping entry")
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.queue {
		w.write(e)
	}
}

func (w *Writer) write(e entry) {
	ctx := context.Background()
	var err error
	switch e.kind {
	case kindBatch:
		err = w.store.InsertBatch(ctx, e.batch)
	case kindRejection:
		err = w.store.InsertRejection(ctx, e.rejection)
	case kindAutoAccept:
		err = w.store.InsertAutoAcceptDecision(ctx, e.autoAccept)
	case kindAccept:
		err = w.store.InsertAccept(ctx, e.accept)
		if err == nil {
			w.publishAccept(ctx, e.accept)
		}
	}
	if err != nil {
		log.Error().Err(err).Int("kind", int(e.kind)).Msg("decision log write failed")
	}
}

func (w *Writer) publishAccept(ctx context.Context, rec dispatch.AcceptRecord) {
	if w.kafka == nil {
		return
	}
	data, err := json.Marshal(acceptEvent{
		OrderID: rec.OrderID.String(), DriverID: rec.DriverID.String(),
		BatchNumber: rec.BatchNumber, ResponseMs: rec.ResponseMs, MatchedAt: rec.CreatedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal accept event")
		return
	}
	if err := w.kafka.WriteMessages(ctx, kafka.Message{Key: []byte(rec.OrderID.String()), Value: data}); err != nil {
		log.Warn().Err(err).Str("order_id", rec.OrderID.String()).Msg("failed to publish accept event to kafka")
	}
}

// LogBatch implements dispatch.DecisionLogger.
func (w *Writer) LogBatch(ctx context.Context, rec dispatch.BatchDecisionRecord) {
	w.enqueue(entry{kind: kindBatch, batch: rec})
}

// LogRejection implements dispatch.DecisionLogger.
func (w *Writer) LogRejection(ctx context.Context, rec predictor.RejectionRecord) {
	w.enqueue(entry{kind: kindRejection, rejection: rec})
}

// LogAutoAcceptDecision implements dispatch.DecisionLogger.
func (w *Writer) LogAutoAcceptDecision(ctx context.Context, rec dispatch.AutoAcceptDecisionRecord) {
	w.enqueue(entry{kind: kindAutoAccept, autoAccept: rec})
}

// LogAccept implements dispatch.DecisionLogger.
func (w *Writer) LogAccept(ctx context.Context, rec dispatch.AcceptRecord) {
	w.enqueue(entry{kind: kindAccept, accept: rec})
}

// Close drains the queue and stops the background writer, then closes the
// kafka producer. Safe to call once during shutdown.
func (w *Writer) Close() error {
	close(w.queue)
	<-w.done
	if w.kafka != nil {
		return w.kafka.Close()
	}
	return nil
}
