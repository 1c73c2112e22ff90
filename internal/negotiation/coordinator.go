// Package negotiation owns the passenger side of a booking negotiation: the
// lifecycle state machine, optimistic accept/decline with server
// reconciliation, and the subscription feed consumed by the UI layer.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/backend"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/diff"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/observability"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/rank"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/syncsched"
)

// DriverDirectory resolves driver display attributes. Lookups are
// best-effort: a miss leaves the backend-provided ref untouched.
type DriverDirectory interface {
	Profile(ctx context.Context, driverID string) (booking.DriverRef, bool)
}

// EventPublisher receives fire-and-forget lifecycle events for analytics.
// Implementations must never block negotiation.
type EventPublisher interface {
	Publish(ctx context.Context, kind string, res *booking.Resource)
}

// PaymentGateway places a hold for the accepted offer amount and returns a
// provider reference for it.
type PaymentGateway interface {
	Hold(ctx context.Context, bookingID string, amountMinor int64) (string, error)
}

type Options struct {
	Criterion        rank.Criterion
	FailureThreshold int // consecutive transient failures before the user is told syncing is degraded
	Directory        DriverDirectory
	Events           EventPublisher
	Payments         PaymentGateway
	Logger           *slog.Logger
}

// Coordinator drives one booking from creation through offer collection,
// acceptance and payment handoff. All state lives in memory; the server is
// the sole source of truth and every local mutation is either adopted from a
// server response or optimistic pending the next reconciliation.
type Coordinator struct {
	client    backend.Client
	responder *Responder
	sched     *syncsched.Scheduler
	dir       DriverDirectory
	events    EventPublisher
	payments  PaymentGateway
	log       *slog.Logger
	criterion rank.Criterion
	threshold int

	// op serializes the scheduler's fetch with user actions so an action's
	// result is always applied before the next tick's snapshot.
	op sync.Mutex

	mu       sync.Mutex
	id       string
	resource *booking.Resource
	lastErr  error
	closed   bool
	subs     map[int]func(Update)
	nextSub  int
}

func New(client backend.Client, sched *syncsched.Scheduler, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Coordinator{
		client:    client,
		responder: NewResponder(client, log),
		sched:     sched,
		dir:       opts.Directory,
		events:    opts.Events,
		payments:  opts.Payments,
		log:       log,
		criterion: rank.ParseCriterion(string(opts.Criterion)),
		threshold: threshold,
		subs:      make(map[int]func(Update)),
	}
}

// Start adopts the freshly created resource and begins polling. A booking in
// Created moves to AwaitingOffers immediately; the server performs the same
// transition and the next fetch reconciles.
func (c *Coordinator) Start(ctx context.Context, res *booking.Resource) {
	snap := res.Clone()
	if snap.Status == booking.StatusCreated {
		snap.Status = booking.StatusAwaitingOffers
	}
	c.mu.Lock()
	c.id = snap.ID
	c.resource = snap
	c.mu.Unlock()

	observability.SessionsActive.Inc()
	c.publishEvent(ctx, "booking_created", snap)
	c.pushUpdate(c.View())
	c.sched.Start(ctx, c.fetch)
}

// ID returns the booking id this coordinator owns.
func (c *Coordinator) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// View is the current session state as the UI sees it.
func (c *Coordinator) View() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(nil)
}

// Subscribe registers a callback invoked after every applied tick and user
// action. The returned function unsubscribes.
func (c *Coordinator) Subscribe(fn func(Update)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// PausePolling suspends synchronization until ResumePolling. Backoff state
// is preserved.
func (c *Coordinator) PausePolling()  { c.sched.SetPaused(true) }
func (c *Coordinator) ResumePolling() { c.sched.SetPaused(false) }

// Close tears the session down: no late fetch result or in-flight action
// may mutate state afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs = map[int]func(Update){}
	c.mu.Unlock()

	c.sched.Stop()
	observability.SessionsActive.Dec()
}

// fetch is the scheduler's Fetch: one synchronization round.
func (c *Coordinator) fetch(ctx context.Context) syncsched.Outcome {
	c.op.Lock()
	defer c.op.Unlock()
	if c.isClosed() {
		return syncsched.OutcomeStop
	}

	res, err := c.client.GetBooking(ctx, c.ID())
	if ctx.Err() != nil {
		return syncsched.OutcomeStop
	}
	if err != nil {
		return c.applyFetchError(err)
	}
	c.enrich(ctx, res)
	_, out := c.OnTick(res)
	return out
}

// OnTick folds a fetched snapshot into local state: stale snapshots are
// discarded by status ordering, changes become notifications, and the
// resulting update is pushed to subscribers. Everything here is synchronous
// and deterministic.
func (c *Coordinator) OnTick(snap *booking.Resource) (Update, syncsched.Outcome) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Update{}, syncsched.OutcomeStop
	}
	if c.resource != nil && snap.Status.OlderThan(c.resource.Status) {
		c.log.Debug("discarding stale snapshot",
			"booking_id", snap.ID, "snapshot_status", snap.Status, "local_status", c.resource.Status)
		u := c.updateLocked(nil)
		c.mu.Unlock()
		return u, syncsched.OutcomeQuiet
	}

	ch := diff.Diff(c.resource, snap)
	var notes []Notification
	now := time.Now()
	for _, o := range ch.NewOffers {
		observability.NewOffersTotal.Inc()
		notes = append(notes, Notification{
			Kind:    NoteNewOffer,
			OfferID: o.ID,
			Message: fmt.Sprintf("new offer: %d from %s", o.Price, o.Driver.Name),
			At:      now,
		})
	}
	if ch.StatusChanged {
		notes = append(notes, Notification{
			Kind:    NoteStatusChange,
			Message: fmt.Sprintf("booking moved from %s to %s", ch.From, ch.To),
			At:      now,
		})
	}

	c.resource = snap
	c.lastErr = nil
	u := c.updateLocked(notes)
	c.mu.Unlock()

	if len(ch.NewOffers) > 0 {
		c.publishEvent(context.Background(), "offers_received", snap)
	}
	c.pushUpdate(u)

	switch {
	case snap.Status.Final():
		return u, syncsched.OutcomeStop
	case ch.HasNewPending():
		return u, syncsched.OutcomeActive
	default:
		return u, syncsched.OutcomeQuiet
	}
}

// Accept optimistically confirms the chosen offer (declining its siblings),
// submits the decision, and reconciles with the server's answer. On a
// conflict the authoritative state is re-fetched before the error surfaces;
// on a network failure the optimistic edit is rolled back and the caller may
// retry.
func (c *Coordinator) Accept(ctx context.Context, offerID string) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	res := c.resource
	if res.Status != booking.StatusAwaitingOffers {
		c.mu.Unlock()
		return &InvalidStateError{Op: "accept", State: res.Status, Reason: "booking is not collecting offers"}
	}
	offer, ok := res.Offer(offerID)
	if !ok {
		c.mu.Unlock()
		return &InvalidStateError{Op: "accept", State: res.Status, Reason: "offer " + offerID + " not in current snapshot"}
	}
	if offer.Status != booking.OfferPending {
		c.mu.Unlock()
		return &InvalidStateError{Op: "accept", State: res.Status, Reason: "offer is " + string(offer.Status)}
	}
	prev := res
	opt := res.Clone()
	for id, o := range opt.Offers {
		switch {
		case id == offerID:
			o.Status = booking.OfferAccepted
		case o.Status == booking.OfferPending:
			o.Status = booking.OfferDeclined
		}
		opt.Offers[id] = o
	}
	opt.Status = booking.StatusConfirmed
	opt.AcceptedOfferID = offerID
	c.resource = opt
	c.mu.Unlock()

	auth, err := c.responder.Accept(ctx, prev.ID, offerID)
	if err != nil {
		return c.resolveActionFailure(ctx, err, prev, offerID)
	}
	c.adopt(auth, nil)
	c.publishEvent(ctx, "offer_accepted", auth)
	return nil
}

// Decline marks one offer declined. Declining an offer already known to be
// declined is a no-op success and makes no network call.
func (c *Coordinator) Decline(ctx context.Context, offerID string) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	res := c.resource
	if res.Status != booking.StatusAwaitingOffers {
		c.mu.Unlock()
		return &InvalidStateError{Op: "decline", State: res.Status, Reason: "booking is not collecting offers"}
	}
	offer, ok := res.Offer(offerID)
	if !ok {
		c.mu.Unlock()
		return &InvalidStateError{Op: "decline", State: res.Status, Reason: "offer " + offerID + " not in current snapshot"}
	}
	if offer.Status == booking.OfferDeclined {
		c.mu.Unlock()
		return nil
	}
	if offer.Status == booking.OfferAccepted {
		c.mu.Unlock()
		return &InvalidStateError{Op: "decline", State: res.Status, Reason: "offer already accepted"}
	}
	prev := res
	opt := res.Clone()
	o := opt.Offers[offerID]
	o.Status = booking.OfferDeclined
	opt.Offers[offerID] = o
	c.resource = opt
	c.mu.Unlock()

	auth, err := c.responder.Decline(ctx, prev.ID, offerID)
	if err != nil {
		return c.resolveActionFailure(ctx, err, prev, offerID)
	}
	c.adopt(auth, nil)
	c.publishEvent(ctx, "offer_declined", auth)
	return nil
}

// Cancel withdraws the booking. Valid only while no payment happened.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.op.Lock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.op.Unlock()
		return ErrSessionClosed
	}
	res := c.resource
	if res.Status != booking.StatusAwaitingOffers && res.Status != booking.StatusConfirmed {
		c.mu.Unlock()
		c.op.Unlock()
		return &InvalidStateError{Op: "cancel", State: res.Status, Reason: "cancellation allowed only before payment"}
	}
	c.mu.Unlock()

	if err := c.client.CancelBooking(ctx, res.ID); err != nil {
		c.setLastError(err)
		c.pushUpdate(c.View())
		c.op.Unlock()
		return err
	}

	cancelled := res.Clone()
	cancelled.Status = booking.StatusCancelled
	c.adopt(cancelled, []Notification{{
		Kind:    NoteStatusChange,
		Message: "booking cancelled",
		At:      time.Now(),
	}})
	c.publishEvent(ctx, "booking_cancelled", cancelled)
	c.op.Unlock()

	// final state, polling is over; must not hold op here or a blocked
	// in-flight fetch could never drain
	c.sched.Stop()
	return nil
}

// Pay performs the payment handoff for a confirmed booking: the backend
// issues the handoff token and the gateway places a hold for the accepted
// offer amount. Success moves the session to Paid.
func (c *Coordinator) Pay(ctx context.Context) (string, error) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrSessionClosed
	}
	res := c.resource
	if res.Status != booking.StatusConfirmed {
		c.mu.Unlock()
		return "", &InvalidStateError{Op: "pay", State: res.Status, Reason: "payment requires a confirmed offer"}
	}
	accepted, ok := res.Offer(res.AcceptedOfferID)
	if !ok {
		c.mu.Unlock()
		return "", &InvalidStateError{Op: "pay", State: res.Status, Reason: "confirmed booking has no accepted offer"}
	}
	c.mu.Unlock()

	token, err := c.client.CreatePayment(ctx, res.ID)
	if err != nil {
		c.setLastError(err)
		c.pushUpdate(c.View())
		return "", err
	}
	if c.payments != nil {
		ref, err := c.payments.Hold(ctx, res.ID, accepted.Price)
		if err != nil {
			c.setLastError(err)
			c.pushUpdate(c.View())
			return "", err
		}
		c.log.Info("payment hold placed", "booking_id", res.ID, "provider_ref", ref)
	}

	paid := res.Clone()
	paid.Status = booking.StatusPaid
	c.adopt(paid, []Notification{{
		Kind:    NoteStatusChange,
		Message: "payment handed off",
		At:      time.Now(),
	}})
	observability.HandoffsTotal.Inc()
	c.publishEvent(ctx, "payment_handoff", paid)
	return token, nil
}

// resolveActionFailure reconciles after a failed accept/decline. Conflicts
// force a re-fetch of the authoritative state; anything else rolls the
// optimistic edit back so the user can retry.
func (c *Coordinator) resolveActionFailure(ctx context.Context, actionErr error, prev *booking.Resource, offerID string) error {
	var conflict *OfferConflictError
	if errors.As(actionErr, &conflict) {
		fresh, err := c.client.GetBooking(ctx, prev.ID)
		if err != nil {
			// re-fetch failed too; fall back to the pre-action snapshot,
			// the regular polling loop will reconcile
			c.restore(prev, actionErr)
			return actionErr
		}
		c.enrich(ctx, fresh)
		c.adopt(fresh, []Notification{{
			Kind:    NoteOfferLost,
			OfferID: offerID,
			Message: "that offer is no longer available",
			At:      time.Now(),
		}})
		c.setLastError(actionErr)
		return actionErr
	}

	c.restore(prev, actionErr)
	return actionErr
}

// adopt installs a server-authoritative resource, bypassing the staleness
// check that applies to polled snapshots.
func (c *Coordinator) adopt(res *booking.Resource, notes []Notification) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resource = res
	c.lastErr = nil
	u := c.updateLocked(notes)
	c.mu.Unlock()
	c.pushUpdate(u)
}

// restore rolls local state back to the pre-action snapshot.
func (c *Coordinator) restore(prev *booking.Resource, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resource = prev
	c.lastErr = cause
	u := c.updateLocked(nil)
	c.mu.Unlock()
	c.pushUpdate(u)
}

func (c *Coordinator) applyFetchError(err error) syncsched.Outcome {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return syncsched.OutcomeStop
	}
	c.lastErr = err
	var notes []Notification
	var out syncsched.Outcome
	now := time.Now()

	switch backend.ClassOf(err) {
	case backend.ClassNotFound:
		notes = append(notes, Notification{Kind: NoteSessionDead, Message: "booking no longer exists", At: now})
		out = syncsched.OutcomeStop
	case backend.ClassRateLimited:
		notes = append(notes, Notification{Kind: NoteSyncPaused, Message: "syncing paused", At: now})
		out = syncsched.OutcomeRateLimited
	default:
		// the streak includes this failure; the scheduler counts it only
		// after we return
		if c.sched.Failures()+1 >= c.threshold {
			notes = append(notes, Notification{Kind: NoteSyncDegraded, Message: "connection unstable, retrying", At: now})
		}
		out = syncsched.OutcomeTransient
	}
	u := c.updateLocked(notes)
	c.mu.Unlock()

	c.log.Warn("booking fetch failed", "booking_id", u.BookingID, "error", err, "outcome", out.String())
	c.pushUpdate(u)
	return out
}

func (c *Coordinator) enrich(ctx context.Context, res *booking.Resource) {
	if c.dir == nil {
		return
	}
	for id, o := range res.Offers {
		if p, ok := c.dir.Profile(ctx, o.Driver.ID); ok {
			o.Driver = p
			res.Offers[id] = o
		}
	}
}

func (c *Coordinator) updateLocked(notes []Notification) Update {
	u := Update{Notifications: notes}
	if c.lastErr != nil {
		u.LastError = c.lastErr.Error()
	}
	if c.resource != nil {
		u.BookingID = c.resource.ID
		u.Status = c.resource.Status
		u.AcceptedOfferID = c.resource.AcceptedOfferID
		u.RankedOffers = rank.Rank(c.resource.PendingOffers(), c.criterion)
	}
	return u
}

func (c *Coordinator) pushUpdate(u Update) {
	c.mu.Lock()
	subs := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(u)
	}
}

func (c *Coordinator) publishEvent(ctx context.Context, kind string, res *booking.Resource) {
	if c.events != nil {
		c.events.Publish(ctx, kind, res)
	}
}

func (c *Coordinator) setLastError(err error) {
	c.mu.Lock()
	if !c.closed {
		c.lastErr = err
	}
	c.mu.Unlock()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
