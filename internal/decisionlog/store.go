// Package decisionlog writes the dispatch engine's per-batch, per-rejection,
// per-auto-accept-decision, and per-accept records. Grounded on the
// teacher's MatchingService: a pgx-backed repository for the durable row,
// paired with a fire-and-forget kafka-go publish of a summary event
// (teacher's publishMatchEvent / "ride-matches" topic), generalized here
// into one bounded work queue so all four record kinds share a single
// background writer instead of four separate goroutine-per-call sites.
package decisionlog

import (
	"context"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
)

// Store persists the four decision-log row kinds. Implemented by
// internal/store/postgres against the dispatch_logs/order_rejections/
// auto_accept_logs tables.
type Store interface {
	InsertBatch(ctx context.Context, rec dispatch.BatchDecisionRecord) error
	InsertRejection(ctx context.Context, rec predictor.RejectionRecord) error
	InsertAutoAcceptDecision(ctx context.Context, rec dispatch.AutoAcceptDecisionRecord) error
	InsertAccept(ctx context.Context, rec dispatch.AcceptRecord) error
}
