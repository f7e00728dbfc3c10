package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lexmatch-backend/internal/match"
	"lexmatch-backend/internal/model"
	"lexmatch-backend/internal/storage"
)

// DefaultAckTimeout bounds the notify-both-sides commit step.
const DefaultAckTimeout = 5 * time.Second

// QueueStore is the slice of the queue API the orchestrator drives.
type QueueStore interface {
	Join(ctx context.Context, user model.User) error
	Leave(ctx context.Context, userID string, role model.Role, language string) error
	RemoveFromAny(ctx context.Context, userID string) error
	Size(ctx context.Context, role model.Role, language string) (int64, error)
	IsQueued(ctx context.Context, userID string) (bool, error)
}

// Matcher is the pairing coordinator seam.
type Matcher interface {
	FindMatch(ctx context.Context, user model.User) (*match.Result, error)
	Rollback(ctx context.Context, userA, userB model.User) error
	HasActive(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, userID string) (*model.Match, error)
	Remove(ctx context.Context, userID string) error
}

// PresenceStore is the reachability seam.
type PresenceStore interface {
	Set(ctx context.Context, userID, connID string) error
	Get(ctx context.Context, userID string) (string, bool, error)
	Remove(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
}

// Transport is what the orchestrator needs from the connection layer.
type Transport interface {
	Send(connID string, msg Message) error
	SendWithAck(ctx context.Context, connID string, msg Message, timeout time.Duration) Delivery
	IsConnected(connID string) bool
}

// History consumes match outcomes as plain data. Optional.
type History interface {
	CreatePracticeSession(ctx context.Context, session *storage.PracticeSession) error
	UpdatePracticeSessionStatus(ctx context.Context, matchID, status string) error
}

// Orchestrator drives the queue store and match coordinator on every
// connection event and performs the two-phase commit of a match: notify
// both sides, require acknowledgment, roll back on anything less.
type Orchestrator struct {
	queues      QueueStore
	matcher     Matcher
	presence    PresenceStore
	transport   Transport
	history     History
	grace       *graceTable
	gracePeriod time.Duration
	ackTimeout  time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	connUsers map[string]string     // connID -> resolved userID
	descs     map[string]model.User // userID -> last join descriptor
}

var _ Handler = (*Orchestrator)(nil)

func NewOrchestrator(queues QueueStore, matcher Matcher, presence PresenceStore, transport Transport, history History, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		queues:      queues,
		matcher:     matcher,
		presence:    presence,
		transport:   transport,
		history:     history,
		grace:       newGraceTable(),
		gracePeriod: DefaultGracePeriod,
		ackTimeout:  DefaultAckTimeout,
		logger:      logger,
		connUsers:   make(map[string]string),
		descs:       make(map[string]model.User),
	}
}

// SetGracePeriod overrides the disconnect grace window.
func (o *Orchestrator) SetGracePeriod(d time.Duration) {
	if d > 0 {
		o.gracePeriod = d
	}
}

// SetAckTimeout overrides the delivery acknowledgment deadline.
func (o *Orchestrator) SetAckTimeout(d time.Duration) {
	if d > 0 {
		o.ackTimeout = d
	}
}

// HandleConnect registers presence for the user. A reconnect within the
// grace window disarms the pending cleanup, so the session continues
// with its queue position intact.
func (o *Orchestrator) HandleConnect(ctx context.Context, userID, connID string) {
	if o.grace.Disarm(userID) {
		o.logger.Info("reconnect within grace window",
			zap.String("user_id", userID),
			zap.String("conn_id", connID))
	}

	o.mu.Lock()
	o.connUsers[connID] = userID
	o.mu.Unlock()

	if err := o.presence.Set(ctx, userID, connID); err != nil {
		o.logger.Error("failed to set presence on connect",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// HandleDisconnect arms the grace timer. Only when it fires does the
// user actually get evicted, and even then queue membership is
// re-checked first: the user may have been matched during the window.
func (o *Orchestrator) HandleDisconnect(userID, connID string) {
	o.mu.Lock()
	resolved, ok := o.connUsers[connID]
	delete(o.connUsers, connID)
	o.mu.Unlock()
	if ok {
		userID = resolved
	}

	uid, cid := userID, connID
	o.grace.Arm(uid, o.gracePeriod, func() {
		o.evict(context.Background(), uid, cid)
	})
	o.logger.Info("grace timer armed",
		zap.String("user_id", userID),
		zap.Duration("grace_period", o.gracePeriod))
}

func (o *Orchestrator) evict(ctx context.Context, userID, connID string) {
	// Presence is checked before anything is torn down: when the user
	// came back on a newer connection the replacement socket's connect
	// event may have landed before the old socket's disconnect, so this
	// timer belongs to a superseded connection and must not touch a
	// live session's queue entry.
	current, ok, err := o.presence.Get(ctx, userID)
	if err != nil {
		o.logger.Error("grace eviction: presence check failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	if ok && current != connID {
		o.logger.Info("grace eviction skipped, user live on newer connection",
			zap.String("user_id", userID),
			zap.String("dead_conn_id", connID),
			zap.String("live_conn_id", current))
		return
	}

	queued, err := o.queues.IsQueued(ctx, userID)
	if err != nil {
		o.logger.Error("grace eviction: queue check failed",
			zap.String("user_id", userID), zap.Error(err))
	} else if queued {
		if err := o.queues.RemoveFromAny(ctx, userID); err != nil {
			o.logger.Error("grace eviction: queue removal failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	if ok {
		if err := o.presence.Remove(ctx, userID); err != nil {
			o.logger.Error("grace eviction: presence removal failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	o.mu.Lock()
	delete(o.descs, userID)
	o.mu.Unlock()

	o.logger.Info("user evicted after grace period", zap.String("user_id", userID))
}

// HandleJoin runs the full join flow: replay an existing match, otherwise
// try to pair immediately, otherwise enqueue.
func (o *Orchestrator) HandleJoin(ctx context.Context, connID, userID string, p JoinQueuePayload) {
	finalID := p.UserID
	if finalID == "" {
		finalID = userID
	}
	if finalID == "" {
		finalID = "anon-" + uuid.New().String()
	}
	username := p.Username
	if username == "" {
		username = "Anonymous"
	}

	hasMatch, err := o.matcher.HasActive(ctx, finalID)
	if err != nil {
		o.fail(connID, "Failed to join queue")
		return
	}
	if hasMatch {
		record, err := o.matcher.Get(ctx, finalID)
		if err != nil {
			o.fail(connID, "Failed to join queue")
			return
		}
		if record != nil {
			_ = o.transport.Send(connID, newMessage(EventMatched, map[string]any{
				"match_id": record.MatchID,
				"partner":  record.Partner,
				"user_id":  finalID,
			}))
			return
		}
	}

	if err := o.presence.Set(ctx, finalID, connID); err != nil {
		o.fail(connID, "Failed to join queue")
		return
	}

	user := model.User{
		ID:            finalID,
		Username:      username,
		WalletAddress: p.WalletAddress,
		Role:          p.Role,
		Language:      p.Language,
		JoinedAt:      time.Now().UTC(),
	}

	o.mu.Lock()
	o.connUsers[connID] = finalID
	o.descs[finalID] = user
	o.mu.Unlock()

	result, err := o.matcher.FindMatch(ctx, user)
	if err != nil {
		// A store failure is not "no match": the user is neither queued
		// nor matched, so surface a retry signal instead of a queue ack.
		o.logger.Error("find match failed",
			zap.String("user_id", finalID), zap.Error(err))
		o.fail(connID, "Failed to join queue")
		return
	}

	if result == nil {
		o.enqueue(ctx, connID, user)
		return
	}
	o.commitMatch(ctx, connID, user, result)
}

func (o *Orchestrator) enqueue(ctx context.Context, connID string, user model.User) {
	if err := o.queues.Join(ctx, user); err != nil {
		o.logger.Error("enqueue failed",
			zap.String("user_id", user.ID), zap.Error(err))
		o.fail(connID, "Failed to join queue")
		return
	}

	size, err := o.queues.Size(ctx, user.Role, user.Language)
	if err != nil {
		o.logger.Warn("queue size lookup failed",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	_ = o.transport.Send(connID, newMessage(EventQueued, map[string]any{
		"message":    "Added to queue. Waiting for a partner...",
		"queue_size": size,
		"user_id":    user.ID,
	}))
}

// commitMatch performs the delivery phase: both sides must acknowledge
// the matched event within the deadline, or the match is rolled back and
// permanently abandoned for this attempt.
func (o *Orchestrator) commitMatch(ctx context.Context, connID string, user model.User, result *match.Result) {
	// The session row is created as soon as the match exists in the
	// store, so an aborted delivery shows up as cancelled rather than
	// never having happened.
	o.recordHistory(ctx, user, result)

	// The joiner was never enqueued this round, but an earlier session
	// may have left a stale entry behind.
	if err := o.queues.RemoveFromAny(ctx, user.ID); err != nil {
		o.logger.Warn("stale queue cleanup failed",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	if !o.transport.IsConnected(result.ConnID) {
		o.logger.Info("partner connection vanished before delivery",
			zap.String("partner_id", result.Partner.ID))
		o.abort(ctx, connID, user, result)
		return
	}

	userMsg := newMessage(EventMatched, map[string]any{
		"match_id": result.MatchID,
		"partner":  model.PartnerOf(result.Partner),
		"user_id":  user.ID,
	})
	partnerMsg := newMessage(EventMatched, map[string]any{
		"match_id": result.MatchID,
		"partner":  model.PartnerOf(user),
		"user_id":  result.Partner.ID,
	})

	var userDelivery, partnerDelivery Delivery
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		userDelivery = o.transport.SendWithAck(ctx, connID, userMsg, o.ackTimeout)
	}()
	go func() {
		defer wg.Done()
		partnerDelivery = o.transport.SendWithAck(ctx, result.ConnID, partnerMsg, o.ackTimeout)
	}()
	wg.Wait()

	if userDelivery == Delivered && partnerDelivery == Delivered {
		o.logger.Info("match delivered",
			zap.String("match_id", result.MatchID),
			zap.String("user_id", user.ID),
			zap.String("partner_id", result.Partner.ID))
		o.updateHistory(ctx, result.MatchID, storage.SessionActive)
		return
	}

	o.logger.Info("match delivery failed, rolling back",
		zap.String("match_id", result.MatchID),
		zap.Stringer("user_delivery", userDelivery),
		zap.Stringer("partner_delivery", partnerDelivery))
	o.abort(ctx, connID, user, result)
}

func (o *Orchestrator) abort(ctx context.Context, connID string, user model.User, result *match.Result) {
	if err := o.matcher.Rollback(ctx, user, result.Partner); err != nil {
		o.logger.Error("rollback failed",
			zap.String("match_id", result.MatchID), zap.Error(err))
	}
	o.updateHistory(ctx, result.MatchID, storage.SessionCancelled)

	cancelled := map[string]any{"message": "Match was cancelled. You are back in the queue."}
	_ = o.transport.Send(connID, newMessage(EventMatchCancelled, cancelled))
	_ = o.transport.Send(result.ConnID, newMessage(EventMatchCancelled, cancelled))
}

func (o *Orchestrator) recordHistory(ctx context.Context, user model.User, result *match.Result) {
	if o.history == nil {
		return
	}

	learnerID, fluentID := user.ID, result.Partner.ID
	if user.Role == model.RoleFluent {
		learnerID, fluentID = result.Partner.ID, user.ID
	}
	session := &storage.PracticeSession{
		MatchID:   result.MatchID,
		LearnerID: learnerID,
		FluentID:  fluentID,
		Language:  user.Language,
		Status:    storage.SessionMatched,
	}
	if err := o.history.CreatePracticeSession(ctx, session); err != nil {
		// History is a downstream consumer; its failures never unwind a
		// committed match.
		o.logger.Warn("failed to record practice session",
			zap.String("match_id", result.MatchID), zap.Error(err))
	}
}

func (o *Orchestrator) updateHistory(ctx context.Context, matchID, status string) {
	if o.history == nil {
		return
	}
	if err := o.history.UpdatePracticeSessionStatus(ctx, matchID, status); err != nil {
		o.logger.Warn("failed to update practice session",
			zap.String("match_id", matchID),
			zap.String("status", status),
			zap.Error(err))
	}
}

// HandleLeave removes the user from their queue and clears any match
// record they hold.
func (o *Orchestrator) HandleLeave(ctx context.Context, connID, userID string) {
	o.mu.Lock()
	if resolved, ok := o.connUsers[connID]; ok {
		userID = resolved
	}
	desc, hasDesc := o.descs[userID]
	o.mu.Unlock()

	var err error
	if hasDesc {
		err = o.queues.Leave(ctx, userID, desc.Role, desc.Language)
	} else {
		err = o.queues.RemoveFromAny(ctx, userID)
	}
	if err != nil {
		o.logger.Error("leave queue failed",
			zap.String("user_id", userID), zap.Error(err))
		o.fail(connID, "Failed to leave queue")
		return
	}

	record, err := o.matcher.Get(ctx, userID)
	if err != nil {
		o.logger.Warn("match lookup on leave failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	if err := o.matcher.Remove(ctx, userID); err != nil {
		o.logger.Error("match removal on leave failed",
			zap.String("user_id", userID), zap.Error(err))
		o.fail(connID, "Failed to leave queue")
		return
	}
	if record != nil {
		o.updateHistory(ctx, record.MatchID, storage.SessionEnded)
	}

	if err := o.presence.Refresh(ctx, userID); err != nil {
		o.logger.Warn("presence refresh on leave failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	o.mu.Lock()
	delete(o.descs, userID)
	o.mu.Unlock()

	_ = o.transport.Send(connID, newMessage(EventLeftQueue, map[string]any{
		"message": "Successfully left the queue",
	}))
}

// HandleQueueStatus reports the bucket size as plain data.
func (o *Orchestrator) HandleQueueStatus(ctx context.Context, connID string, p QueueStatusPayload) {
	size, err := o.queues.Size(ctx, p.Role, p.Language)
	if err != nil {
		o.fail(connID, "Failed to get queue status")
		return
	}
	_ = o.transport.Send(connID, newMessage(EventQueueStatusRes, map[string]any{
		"queue_size": size,
		"role":       p.Role,
		"language":   p.Language,
	}))
}

// fail surfaces a generic retry signal; internal detail stays in logs.
func (o *Orchestrator) fail(connID, message string) {
	_ = o.transport.Send(connID, newMessage(EventError, map[string]any{"message": message}))
}
