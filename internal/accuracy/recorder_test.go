package accuracy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/store"
)

// captureStore wraps the memory store to observe and fail accuracy writes.
type captureStore struct {
	*store.Memory
	saved     []*store.AccuracyRecord
	audits    []*store.AccuracyAudit
	failSave  bool
	failAudit bool
}

func (c *captureStore) SaveAccuracyRecord(ctx context.Context, rec *store.AccuracyRecord) (string, error) {
	if c.failSave {
		return "", errors.New("disk full")
	}
	c.saved = append(c.saved, rec)
	return c.Memory.SaveAccuracyRecord(ctx, rec)
}

func (c *captureStore) AppendAccuracyAudit(ctx context.Context, audit *store.AccuracyAudit) error {
	if c.failAudit {
		return errors.New("disk full")
	}
	c.audits = append(c.audits, audit)
	return c.Memory.AppendAccuracyAudit(ctx, audit)
}

func newCaptureStore() *captureStore {
	return &captureStore{Memory: store.NewMemory()}
}

func TestRecordNormalizesFields(t *testing.T) {
	cs := newCaptureStore()
	r := NewRecorder(cs, logger.Default())

	r.Record(context.Background(), Record{
		SessionID:    "s-1",
		AIText:       strings.Repeat("x", maxAITextLen+500),
		Confidence:   1.7,
		LatencyMs:    -25,
		ResponseType: store.ResponseTypeAI,
	})

	require.Len(t, cs.saved, 1)
	row := cs.saved[0]
	assert.Len(t, row.AIText, maxAITextLen)
	assert.Equal(t, 1.0, row.Confidence)
	assert.Zero(t, row.LatencyMs)

	r.Record(context.Background(), Record{SessionID: "s-1", Confidence: -0.3})
	require.Len(t, cs.saved, 2)
	assert.Zero(t, cs.saved[1].Confidence)
}

func TestRecordShortTextUntouched(t *testing.T) {
	cs := newCaptureStore()
	r := NewRecorder(cs, logger.Default())

	r.Record(context.Background(), Record{
		SessionID:  "s-1",
		AIText:     "short answer",
		Confidence: 0.9,
		LatencyMs:  120,
	})

	require.Len(t, cs.saved, 1)
	assert.Equal(t, "short answer", cs.saved[0].AIText)
	assert.Equal(t, 0.9, cs.saved[0].Confidence)
	assert.Equal(t, int64(120), cs.saved[0].LatencyMs)
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	cs := newCaptureStore()
	cs.failSave = true
	r := NewRecorder(cs, logger.Default())

	// Must not panic or surface; the row is simply lost.
	r.Record(context.Background(), Record{SessionID: "s-1", AIText: "hi"})
	assert.Empty(t, cs.saved)
}

func TestFeedback(t *testing.T) {
	cs := newCaptureStore()
	r := NewRecorder(cs, logger.Default())

	id, err := cs.Memory.SaveAccuracyRecord(context.Background(), &store.AccuracyRecord{
		SessionID: "s-1",
		AIText:    "answer",
	})
	require.NoError(t, err)

	require.NoError(t, r.Feedback(context.Background(), id, "admin-1", MarkHelpful, "accurate"))
	require.Len(t, cs.audits, 1)
	assert.Equal(t, id, cs.audits[0].AccuracyID)
	assert.Equal(t, "admin-1", cs.audits[0].AdminID)
	assert.Equal(t, MarkHelpful, cs.audits[0].Action)
}

func TestFeedbackInvalidMark(t *testing.T) {
	r := NewRecorder(newCaptureStore(), logger.Default())

	err := r.Feedback(context.Background(), "any", "admin-1", "meh", "")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeValidationError, appErr.Code)
}

func TestFeedbackMissingRecord(t *testing.T) {
	r := NewRecorder(newCaptureStore(), logger.Default())

	err := r.Feedback(context.Background(), "missing", "admin-1", MarkHelpful, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFeedbackAuditFailureIsLogOnly(t *testing.T) {
	cs := newCaptureStore()
	r := NewRecorder(cs, logger.Default())

	id, err := cs.Memory.SaveAccuracyRecord(context.Background(), &store.AccuracyRecord{
		SessionID: "s-1",
	})
	require.NoError(t, err)

	cs.failAudit = true
	assert.NoError(t, r.Feedback(context.Background(), id, "admin-1", MarkFlagged, "odd"))
}

func TestStatsCache(t *testing.T) {
	cs := newCaptureStore()
	r := NewRecorder(cs, logger.Default())

	_, ok := r.CachedStats("s-1")
	assert.False(t, ok)

	r.PutStats("s-1", SessionStats{Turns: 4, AvgConfidence: 0.8, FallbackRate: 0.25})
	got, ok := r.CachedStats("s-1")
	require.True(t, ok)
	assert.Equal(t, 4, got.Turns)

	// A new turn invalidates the cached aggregate.
	r.Record(context.Background(), Record{SessionID: "s-1", AIText: "hi"})
	_, ok = r.CachedStats("s-1")
	assert.False(t, ok)
}
