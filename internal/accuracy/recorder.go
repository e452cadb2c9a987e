// Package accuracy records one audit row per AI turn and serves the admin
// feedback surface over those rows.
package accuracy

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/store"
)

// maxAITextLen bounds the stored reply text.
const maxAITextLen = 10000

// Human marks an admin may set.
const (
	MarkHelpful   = "helpful"
	MarkUnhelpful = "unhelpful"
	MarkFlagged   = "flagged"
)

// Record is the per-turn payload handed to the recorder.
type Record struct {
	SessionID    string
	MessageID    string
	AIText       string
	Confidence   float64
	LatencyMs    int64
	Tokens       int
	ResponseType string
	Metadata     map[string]interface{}
}

// SessionStats is the cached aggregate for one session.
type SessionStats struct {
	Turns         int
	AvgConfidence float64
	FallbackRate  float64
}

// Recorder writes accuracy rows best-effort and mutates admin feedback.
type Recorder struct {
	store  store.Gateway
	logger *logger.Logger
	stats  *expirable.LRU[string, SessionStats]
}

// NewRecorder creates a recorder over the store.
func NewRecorder(st store.Gateway, log *logger.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: log,
		stats:  expirable.NewLRU[string, SessionStats](1024, nil, 5*time.Minute),
	}
}

// Record persists one accuracy row. Failures are logged, never surfaced;
// a lost audit row must not cost the visitor their reply.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	row := &store.AccuracyRecord{
		SessionID:    rec.SessionID,
		MessageID:    rec.MessageID,
		AIText:       truncate(rec.AIText, maxAITextLen),
		Confidence:   clamp01(rec.Confidence),
		LatencyMs:    max64(rec.LatencyMs, 0),
		Tokens:       rec.Tokens,
		ResponseType: rec.ResponseType,
		Metadata:     rec.Metadata,
	}

	if _, err := r.store.SaveAccuracyRecord(ctx, row); err != nil {
		r.logger.Warn("failed to save accuracy record",
			zap.String("session_id", rec.SessionID),
			zap.String("response_type", rec.ResponseType),
			zap.Error(err),
		)
		return
	}
	r.stats.Remove(rec.SessionID)
}

// Feedback sets the human mark and evaluation on a record and appends the
// audit row. Only these two fields are mutable after creation.
func (r *Recorder) Feedback(ctx context.Context, accuracyID, adminID, humanMark, evaluation string) error {
	switch humanMark {
	case MarkHelpful, MarkUnhelpful, MarkFlagged:
	default:
		return apperrors.ValidationError("humanMark", "must be helpful, unhelpful or flagged")
	}

	if err := r.store.UpdateAccuracyFeedback(ctx, accuracyID, humanMark, evaluation); err != nil {
		return err
	}

	audit := &store.AccuracyAudit{
		AccuracyID: accuracyID,
		AdminID:    adminID,
		Action:     humanMark,
		Note:       evaluation,
	}
	if err := r.store.AppendAccuracyAudit(ctx, audit); err != nil {
		// The feedback itself committed; the audit gap is log-only.
		r.logger.Warn("failed to append accuracy audit",
			zap.String("accuracy_id", accuracyID),
			zap.Error(err),
		)
	}
	return nil
}

// CachedStats returns the cached aggregate for a session, if present.
func (r *Recorder) CachedStats(sessionID string) (SessionStats, bool) {
	return r.stats.Get(sessionID)
}

// PutStats caches an aggregate computed elsewhere.
func (r *Recorder) PutStats(sessionID string, s SessionStats) {
	r.stats.Add(sessionID, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
