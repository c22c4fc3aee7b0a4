// Package review holds Tier-2 ingestion candidates pending human approval.
//
// The queue enforces two security properties end to end:
//
//   - Ownership is the sole approval authority. Approve, reject, and lookup
//     all require the caller to be the submitting user; an unknown queue ID
//     and another tenant's queue ID are indistinguishable from the outside,
//     so IDs cannot be probed for existence.
//   - Approval removes the item from the queue strictly before the store
//     callback runs. The callback may perform slow I/O; removing first is
//     what makes a second concurrent approval of the same ID fail instead of
//     double-storing the memory.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memgate/internal/audit"
	"github.com/fyrsmithlabs/memgate/internal/ingest"
	"github.com/fyrsmithlabs/memgate/internal/sanitize"
)

// Queue errors.
var (
	// ErrPerUserCapacity indicates the submitting user already holds the
	// maximum number of pending items.
	ErrPerUserCapacity = errors.New("pending review limit reached for user")

	// ErrTotalCapacity indicates the queue is globally full. The queue
	// rejects rather than evicting oldest so one tenant cannot flood the
	// queue to silently drop another tenant's items.
	ErrTotalCapacity = errors.New("review queue is full")

	// ErrNotAuthorized is returned for approve/reject by a non-owner and for
	// unknown queue IDs alike. The message is deliberately generic; it must
	// not reveal whether the ID exists under another owner.
	ErrNotAuthorized = errors.New("not authorized for this queue item")

	// ErrNilStore indicates the queue was constructed without a store callback.
	ErrNilStore = errors.New("store callback cannot be nil")

	// ErrEmptyContent indicates an enqueue with no content.
	ErrEmptyContent = errors.New("pending memory content cannot be empty")
)

// Review action types recorded in history.
const (
	ActionApproved = "approved"
	ActionRejected = "rejected"
	ActionCleared  = "cleared"
)

// Limits bounds the queue. Zero values fall back to defaults.
type Limits struct {
	// MaxPendingPerUser caps items a single user may hold in the queue.
	MaxPendingPerUser int `koanf:"max_pending_per_user"`

	// MaxTotalPending caps the queue across all users.
	MaxTotalPending int `koanf:"max_total_pending"`

	// MaxHistoryEntries caps the review-action history (FIFO-trimmed).
	MaxHistoryEntries int `koanf:"max_history_entries"`
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPendingPerUser: 100,
		MaxTotalPending:   10_000,
		MaxHistoryEntries: 1_000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxPendingPerUser <= 0 {
		l.MaxPendingPerUser = d.MaxPendingPerUser
	}
	if l.MaxTotalPending <= 0 {
		l.MaxTotalPending = d.MaxTotalPending
	}
	if l.MaxHistoryEntries <= 0 {
		l.MaxHistoryEntries = d.MaxHistoryEntries
	}
	return l
}

// PendingMemory is a queued Tier-2 candidate. Items are removed, never
// mutated, on approval or rejection.
type PendingMemory struct {
	QueueID          string                  `json:"queue_id"`
	UserID           string                  `json:"user_id"`
	Content          string                  `json:"content"`
	MemoryType       string                  `json:"memory_type"`
	Source           string                  `json:"source"`
	Evidence         ingest.Evidence         `json:"evidence"`
	ValidationResult ingest.ValidationResult `json:"validation_result"`
	SubmittedAt      time.Time               `json:"submitted_at"`
	Metadata         map[string]any          `json:"metadata,omitempty"`
}

// ReviewAction is one append-only history record.
type ReviewAction struct {
	QueueID   string    `json:"queue_id"`
	Action    string    `json:"action"`
	Reviewer  string    `json:"reviewer"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	MemoryID  string    `json:"memory_id,omitempty"`
}

// EnqueueRequest submits a candidate for review.
type EnqueueRequest struct {
	UserID           string
	Content          string
	MemoryType       string
	Source           string
	Evidence         ingest.Evidence
	ValidationResult ingest.ValidationResult
	Metadata         map[string]any
}

// Queue is the human-in-the-loop review queue.
//
// A single mutex guards every lookup+mutate sequence. The store callback is
// the only I/O and is always invoked outside the critical section.
type Queue struct {
	mu sync.Mutex

	limits Limits
	store  ingest.StoreFunc

	pending map[string]*PendingMemory
	byUser  map[string][]string // per-user queue IDs in insertion order
	history []ReviewAction

	auditor audit.Logger
	logger  *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(a audit.Logger) Option {
	return func(q *Queue) {
		if a != nil {
			q.auditor = a
		}
	}
}

// NewQueue creates a review queue around the injected store callback.
func NewQueue(store ingest.StoreFunc, limits Limits, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	q := &Queue{
		limits:  limits.withDefaults(),
		store:   store,
		pending: make(map[string]*PendingMemory),
		byUser:  make(map[string][]string),
		auditor: audit.NopLogger{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue adds a candidate to the queue and returns its queue ID.
//
// Capacity is checked before any mutation: the submitting user must be under
// MaxPendingPerUser and the queue under MaxTotalPending. Both limits reject
// rather than evict.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := sanitize.RequiredID("user_id", req.UserID); err != nil {
		return "", err
	}
	if req.Content == "" {
		return "", ErrEmptyContent
	}
	if err := req.Evidence.Validate(); err != nil {
		return "", fmt.Errorf("invalid evidence: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.byUser[req.UserID]) >= q.limits.MaxPendingPerUser {
		q.auditEvent(ctx, audit.Event{
			Type: "review.enqueue", Actor: req.UserID, Action: "enqueue",
			Outcome: audit.OutcomeDenied,
			Details: map[string]any{"reason": "per_user_capacity"},
		})
		return "", fmt.Errorf("%w: %s holds %d items", ErrPerUserCapacity, req.UserID, len(q.byUser[req.UserID]))
	}
	if len(q.pending) >= q.limits.MaxTotalPending {
		q.auditEvent(ctx, audit.Event{
			Type: "review.enqueue", Actor: req.UserID, Action: "enqueue",
			Outcome: audit.OutcomeDenied,
			Details: map[string]any{"reason": "total_capacity"},
		})
		return "", fmt.Errorf("%w: %d items pending", ErrTotalCapacity, len(q.pending))
	}

	queueID := uuid.New().String()
	item := &PendingMemory{
		QueueID:          queueID,
		UserID:           req.UserID,
		Content:          req.Content,
		MemoryType:       req.MemoryType,
		Source:           req.Source,
		Evidence:         req.Evidence.Clone(),
		ValidationResult: *req.ValidationResult.Clone(),
		SubmittedAt:      time.Now(),
		Metadata:         ingest.CopyMetadata(req.Metadata),
	}
	q.pending[queueID] = item
	q.byUser[req.UserID] = append(q.byUser[req.UserID], queueID)

	q.logger.Debug("queued for review",
		zap.String("queue_id", queueID),
		zap.String("user_id", req.UserID),
		zap.String("memory_type", req.MemoryType))

	return queueID, nil
}

// GetPending returns the user's pending items, newest first. Results are
// value copies; mutating them cannot affect queue state.
func (q *Queue) GetPending(userID string, limit int) []PendingMemory {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.byUser[userID]
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}

	out := make([]PendingMemory, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if item, ok := q.pending[ids[i]]; ok {
			out = append(out, copyPending(item))
		}
	}
	return out
}

// GetByID returns the item only when it exists and is owned by userID.
// Unknown IDs and other users' IDs both return nil, indistinguishably.
func (q *Queue) GetByID(queueID, userID string) *PendingMemory {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.pending[queueID]
	if !ok || item.UserID != userID {
		return nil
	}
	c := copyPending(item)
	return &c
}

// Approve removes the item and invokes the store callback, returning the
// stored memory ID.
//
// The reviewer must be the submitting user. Removal happens atomically under
// the queue lock, strictly before the callback runs outside it; a concurrent
// Approve on the same ID therefore fails authorization instead of storing
// twice. If the callback fails (or ctx is cancelled inside it) the item is
// already gone from the queue and must be resubmitted through the original
// ingestion path, not retried by ID.
func (q *Queue) Approve(ctx context.Context, queueID, reviewer string) (string, error) {
	if err := sanitize.RequiredID("reviewer", reviewer); err != nil {
		return "", err
	}

	q.mu.Lock()
	item, ok := q.pending[queueID]
	if !ok || item.UserID != reviewer {
		q.mu.Unlock()
		q.auditEvent(ctx, audit.Event{
			Type: "review.approve", Actor: reviewer, Resource: queueID,
			Action: "approve", Outcome: audit.OutcomeDenied,
		})
		return "", ErrNotAuthorized
	}
	q.remove(queueID, item.UserID)
	q.mu.Unlock()

	memoryID, storeErr := q.store(ctx, ingest.StoredMemory{
		Content:    item.Content,
		MemoryType: item.MemoryType,
		Source:     item.Source,
		UserID:     item.UserID,
		Evidence:   item.Evidence.Clone(),
		Metadata:   ingest.CopyMetadata(item.Metadata),
	})

	action := ReviewAction{
		QueueID:   queueID,
		Action:    ActionApproved,
		Reviewer:  reviewer,
		Timestamp: time.Now(),
		UserID:    item.UserID,
		MemoryID:  memoryID,
	}
	if storeErr != nil {
		action.Reason = storeErr.Error()
	}
	q.mu.Lock()
	q.appendHistory(action)
	q.mu.Unlock()

	if storeErr != nil {
		q.auditEvent(ctx, audit.Event{
			Type: "review.approve", Actor: reviewer, Resource: queueID,
			Action: "approve", Outcome: audit.OutcomeError,
			Details: map[string]any{"error": storeErr.Error()},
		})
		return "", fmt.Errorf("storing approved memory: %w", storeErr)
	}

	q.auditEvent(ctx, audit.Event{
		Type: "review.approve", Actor: reviewer, Resource: queueID,
		Action: "approve", Outcome: audit.OutcomeSuccess,
		Details: map[string]any{"memory_id": memoryID},
	})
	q.logger.Info("pending memory approved",
		zap.String("queue_id", queueID),
		zap.String("memory_id", memoryID))

	return memoryID, nil
}

// Reject removes the item without storing it. Same ownership discipline as
// Approve; no callback is involved, so the whole operation runs under the
// queue lock.
func (q *Queue) Reject(ctx context.Context, queueID, reviewer, reason string) error {
	if err := sanitize.RequiredID("reviewer", reviewer); err != nil {
		return err
	}

	q.mu.Lock()
	item, ok := q.pending[queueID]
	if !ok || item.UserID != reviewer {
		q.mu.Unlock()
		q.auditEvent(ctx, audit.Event{
			Type: "review.reject", Actor: reviewer, Resource: queueID,
			Action: "reject", Outcome: audit.OutcomeDenied,
		})
		return ErrNotAuthorized
	}
	q.remove(queueID, item.UserID)
	q.appendHistory(ReviewAction{
		QueueID:   queueID,
		Action:    ActionRejected,
		Reviewer:  reviewer,
		Timestamp: time.Now(),
		UserID:    item.UserID,
		Reason:    reason,
	})
	q.mu.Unlock()

	q.auditEvent(ctx, audit.Event{
		Type: "review.reject", Actor: reviewer, Resource: queueID,
		Action: "reject", Outcome: audit.OutcomeSuccess,
		Details: map[string]any{"reason": reason},
	})
	return nil
}

// BulkApprove approves each ID in order, silently skipping items that fail
// lookup, ownership, or storage. Partial success by design; the returned map
// holds stored memory IDs keyed by queue ID.
func (q *Queue) BulkApprove(ctx context.Context, queueIDs []string, reviewer string) map[string]string {
	stored := make(map[string]string, len(queueIDs))
	for _, id := range queueIDs {
		memoryID, err := q.Approve(ctx, id, reviewer)
		if err != nil {
			q.logger.Debug("bulk approve skipped item",
				zap.String("queue_id", id), zap.Error(err))
			continue
		}
		stored[id] = memoryID
	}
	return stored
}

// BulkReject rejects each ID in order, skipping failures. Returns the number
// of items rejected.
func (q *Queue) BulkReject(ctx context.Context, queueIDs []string, reviewer, reason string) int {
	n := 0
	for _, id := range queueIDs {
		if err := q.Reject(ctx, id, reviewer, reason); err != nil {
			q.logger.Debug("bulk reject skipped item",
				zap.String("queue_id", id), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// GetReviewHistory returns the user's review actions, newest first. History
// is always scoped to one user; there is no all-users mode.
func (q *Queue) GetReviewHistory(userID string, limit int) []ReviewAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []ReviewAction
	for i := len(q.history) - 1; i >= 0; i-- {
		if q.history[i].UserID != userID {
			continue
		}
		out = append(out, q.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ClearUser drops all of the user's pending items, recording a history entry
// and audit event per item. Returns the number of items dropped.
func (q *Queue) ClearUser(ctx context.Context, userID string) int {
	q.mu.Lock()
	ids := append([]string(nil), q.byUser[userID]...)
	for _, id := range ids {
		q.remove(id, userID)
		q.appendHistory(ReviewAction{
			QueueID:   id,
			Action:    ActionCleared,
			Reviewer:  userID,
			Timestamp: time.Now(),
			UserID:    userID,
		})
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.auditEvent(ctx, audit.Event{
			Type: "review.clear", Actor: userID, Resource: id,
			Action: "clear", Outcome: audit.OutcomeSuccess,
		})
	}
	return len(ids)
}

// PendingCount returns the total number of pending items.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingCountForUser returns the number of items one user holds.
func (q *Queue) PendingCountForUser(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byUser[userID])
}

// remove deletes an item from all indexes. Caller holds the lock.
func (q *Queue) remove(queueID, userID string) {
	delete(q.pending, queueID)
	if ids := removeID(q.byUser[userID], queueID); len(ids) > 0 {
		q.byUser[userID] = ids
	} else {
		delete(q.byUser, userID)
	}
}

// appendHistory appends an action and FIFO-trims past the bound. Caller must
// hold the lock.
func (q *Queue) appendHistory(action ReviewAction) {
	q.history = append(q.history, action)
	if over := len(q.history) - q.limits.MaxHistoryEntries; over > 0 {
		q.history = append(q.history[:0:0], q.history[over:]...)
	}
}

func (q *Queue) auditEvent(ctx context.Context, e audit.Event) {
	q.auditor.LogEvent(ctx, e)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func copyPending(item *PendingMemory) PendingMemory {
	c := *item
	c.Evidence = item.Evidence.Clone()
	c.ValidationResult = *item.ValidationResult.Clone()
	c.Metadata = ingest.CopyMetadata(item.Metadata)
	return c
}
