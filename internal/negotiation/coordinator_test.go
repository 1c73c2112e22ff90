package negotiation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/backend"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/syncsched"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend scripts the booking service. Unless an error is injected it
// behaves like the real thing: RespondToOffer resolves the negotiation
// server-side and returns the authoritative resource.
type fakeBackend struct {
	mu         sync.Mutex
	res        *booking.Resource
	getErr     error
	respondErr error
	payErr     error
	getCalls   int
	accepts    int
	declines   int
	cancels    int
	payCalls   int
}

func (f *fakeBackend) CreateBooking(ctx context.Context, req backend.CreateRequest) (*booking.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res.Clone(), nil
}

func (f *fakeBackend) GetBooking(ctx context.Context, id string) (*booking.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.res.Clone(), nil
}

func (f *fakeBackend) RespondToOffer(ctx context.Context, bookingID, offerID string, action backend.Action) (*booking.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if action == backend.ActionAccept {
		f.accepts++
	} else {
		f.declines++
	}
	if f.respondErr != nil {
		return nil, f.respondErr
	}
	cp := f.res.Clone()
	switch action {
	case backend.ActionAccept:
		for id, o := range cp.Offers {
			if id == offerID {
				o.Status = booking.OfferAccepted
			} else if o.Status == booking.OfferPending {
				o.Status = booking.OfferDeclined
			}
			cp.Offers[id] = o
		}
		cp.Status = booking.StatusConfirmed
		cp.AcceptedOfferID = offerID
	case backend.ActionDecline:
		o := cp.Offers[offerID]
		o.Status = booking.OfferDeclined
		cp.Offers[offerID] = o
	}
	f.res = cp
	return cp.Clone(), nil
}

func (f *fakeBackend) CancelBooking(ctx context.Context, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	cp := f.res.Clone()
	cp.Status = booking.StatusCancelled
	f.res = cp
	return nil
}

func (f *fakeBackend) CreatePayment(ctx context.Context, bookingID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payCalls++
	if f.payErr != nil {
		return "", f.payErr
	}
	return "tok_" + bookingID, nil
}

func (f *fakeBackend) setServerState(res *booking.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res = res
}

func (f *fakeBackend) serverState() *booking.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res.Clone()
}

type fakeGateway struct {
	mu     sync.Mutex
	amount int64
	calls  int
	err    error
}

func (g *fakeGateway) Hold(ctx context.Context, bookingID string, amountMinor int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.amount = amountMinor
	if g.err != nil {
		return "", g.err
	}
	return "pi_fake", nil
}

type fakeEvents struct {
	mu    sync.Mutex
	kinds []string
}

func (e *fakeEvents) Publish(ctx context.Context, kind string, res *booking.Resource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
}

func (e *fakeEvents) has(kind string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range e.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func newBooking(offers ...booking.Offer) *booking.Resource {
	m := make(map[string]booking.Offer, len(offers))
	for _, o := range offers {
		o.BookingID = "b1"
		m[o.ID] = o
	}
	return &booking.Resource{ID: "b1", Status: booking.StatusAwaitingOffers, Offers: m, UpdatedAt: t0}
}

func pendingOffer(id string, price int64, at time.Time) booking.Offer {
	return booking.Offer{ID: id, Price: price, Status: booking.OfferPending, CreatedAt: at, Driver: booking.DriverRef{ID: "drv_" + id, Name: "driver " + id}}
}

// idleScheduler never fires beyond the immediate first fetch during a test.
func idleScheduler() *syncsched.Scheduler {
	return syncsched.New(syncsched.Policy{Base: time.Hour, Floor: time.Minute, Max: 4 * time.Hour, Cooldown: 8 * time.Hour}, testLogger())
}

func startCoordinator(t *testing.T, fb *fakeBackend, opts Options) (*Coordinator, chan Update) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	c := New(fb, idleScheduler(), opts)
	updates := make(chan Update, 64)
	c.Subscribe(func(u Update) { updates <- u })
	c.Start(context.Background(), fb.serverState())
	t.Cleanup(c.Close)

	// wait for the scheduler's immediate first fetch to land
	deadline := time.After(2 * time.Second)
	for {
		fb.mu.Lock()
		n := fb.getCalls
		fb.mu.Unlock()
		if n >= 1 {
			return c, updates
		}
		select {
		case <-deadline:
			t.Fatal("first fetch never happened")
		case <-time.After(time.Millisecond):
		}
	}
}

func drainUpdates(updates chan Update) {
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

func waitForNote(t *testing.T, updates chan Update, kind NotificationKind) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			for _, n := range u.Notifications {
				if n.Kind == kind {
					return u
				}
			}
		case <-deadline:
			t.Fatalf("no %s notification arrived", kind)
		}
	}
}

func TestAcceptCheapestOfferScenario(t *testing.T) {
	fb := &fakeBackend{res: newBooking()}
	c, updates := startCoordinator(t, fb, Options{})
	drainUpdates(updates)

	// two offers arrive on the next poll
	snap := newBooking(
		pendingOffer("o80", 80000, t0),
		pendingOffer("o75", 75000, t0.Add(time.Minute)),
	)
	fb.setServerState(snap)
	u, out := c.OnTick(snap.Clone())

	if out != syncsched.OutcomeActive {
		t.Fatalf("outcome = %v, want active", out)
	}
	if len(u.RankedOffers) != 2 || u.RankedOffers[0].ID != "o75" || u.RankedOffers[1].ID != "o80" {
		t.Fatalf("price ranking wrong: %+v", u.RankedOffers)
	}
	newOffers := 0
	for _, n := range u.Notifications {
		if n.Kind == NoteNewOffer {
			newOffers++
		}
	}
	if newOffers != 2 {
		t.Fatalf("expected 2 new-offer notifications, got %d", newOffers)
	}

	if err := c.Accept(context.Background(), "o75"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	v := c.View()
	if v.Status != booking.StatusConfirmed || v.AcceptedOfferID != "o75" {
		t.Fatalf("after accept: status=%s accepted=%s", v.Status, v.AcceptedOfferID)
	}
	server := fb.serverState()
	if server.Offers["o80"].Status != booking.OfferDeclined {
		t.Fatalf("sibling offer not declined: %s", server.Offers["o80"].Status)
	}
	if server.AcceptedCount() != 1 {
		t.Fatalf("accepted count = %d, want 1", server.AcceptedCount())
	}
}

func TestAcceptUnknownOfferRejectedLocally(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	err := c.Accept(context.Background(), "ghost")
	var ise *InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	fb.mu.Lock()
	accepts := fb.accepts
	fb.mu.Unlock()
	if accepts != 0 {
		t.Fatalf("dead-state check failed: %d network calls made", accepts)
	}
}

func TestAcceptTwiceRejectedLocally(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	if err := c.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	err := c.Accept(context.Background(), "o1")
	var ise *InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("second accept should fail locally, got %v", err)
	}
	fb.mu.Lock()
	accepts := fb.accepts
	fb.mu.Unlock()
	if accepts != 1 {
		t.Fatalf("expected exactly 1 network accept, got %d", accepts)
	}
}

func TestAcceptNetworkFailureRollsBack(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o2", 60000, t0))}
	c, updates := startCoordinator(t, fb, Options{})
	drainUpdates(updates)

	fb.respondErr = &backend.APIError{Class: backend.ClassTransient, Message: "timeout"}
	err := c.Accept(context.Background(), "o1")
	if err == nil || backend.ClassOf(err) != backend.ClassTransient {
		t.Fatalf("expected transient error, got %v", err)
	}

	v := c.View()
	if v.Status != booking.StatusAwaitingOffers {
		t.Fatalf("optimistic status not rolled back: %s", v.Status)
	}
	if len(v.RankedOffers) != 2 {
		t.Fatalf("optimistic offer edits not rolled back: %+v", v.RankedOffers)
	}
	if v.LastError == "" {
		t.Fatal("lastError not recorded")
	}

	// a retry after the outage succeeds
	fb.respondErr = nil
	if err := c.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("retry accept: %v", err)
	}
	if got := c.View().Status; got != booking.StatusConfirmed {
		t.Fatalf("status after retry = %s", got)
	}
}

func TestAcceptConflictAdoptsAuthoritativeState(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o2", 60000, t0))}
	c, updates := startCoordinator(t, fb, Options{})
	drainUpdates(updates)

	// another actor took o2 before our accept of o1 landed
	taken := newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o2", 60000, t0))
	o1 := taken.Offers["o1"]
	o1.Status = booking.OfferDeclined
	taken.Offers["o1"] = o1
	o2 := taken.Offers["o2"]
	o2.Status = booking.OfferAccepted
	taken.Offers["o2"] = o2
	taken.Status = booking.StatusConfirmed
	taken.AcceptedOfferID = "o2"

	fb.respondErr = &backend.APIError{Class: backend.ClassConflict, StatusCode: http.StatusConflict, Message: "already accepted"}
	fb.setServerState(taken)

	err := c.Accept(context.Background(), "o1")
	var conflict *OfferConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected OfferConflictError, got %v", err)
	}
	if conflict.OfferID != "o1" {
		t.Fatalf("conflict offer = %s", conflict.OfferID)
	}

	u := waitForNote(t, updates, NoteOfferLost)
	if u.Status != booking.StatusConfirmed || u.AcceptedOfferID != "o2" {
		t.Fatalf("authoritative state not adopted: status=%s accepted=%s", u.Status, u.AcceptedOfferID)
	}
	if len(u.RankedOffers) != 0 {
		t.Fatalf("resolved offers still ranked: %+v", u.RankedOffers)
	}
	if got := c.View(); got.AcceptedOfferID != "o2" {
		t.Fatalf("view accepted = %s, want o2", got.AcceptedOfferID)
	}
}

func TestDeclineIsIdempotent(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o2", 60000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	if err := c.Decline(context.Background(), "o1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	first := c.View()
	if err := c.Decline(context.Background(), "o1"); err != nil {
		t.Fatalf("second decline should be a no-op success, got %v", err)
	}
	second := c.View()

	fb.mu.Lock()
	declines := fb.declines
	fb.mu.Unlock()
	if declines != 1 {
		t.Fatalf("expected 1 network decline, got %d", declines)
	}
	if len(first.RankedOffers) != len(second.RankedOffers) || first.Status != second.Status {
		t.Fatal("second decline changed observable state")
	}
	if len(second.RankedOffers) != 1 || second.RankedOffers[0].ID != "o2" {
		t.Fatalf("remaining offers wrong: %+v", second.RankedOffers)
	}
}

func TestCancelLifecycle(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := c.View().Status; got != booking.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}

	// negotiation is over: everything is rejected locally now
	var ise *InvalidStateError
	if err := c.Cancel(context.Background()); !errors.As(err, &ise) {
		t.Fatalf("second cancel: expected InvalidStateError, got %v", err)
	}
	if err := c.Accept(context.Background(), "o1"); !errors.As(err, &ise) {
		t.Fatalf("accept after cancel: expected InvalidStateError, got %v", err)
	}
}

func TestPayFromConfirmed(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 75000, t0))}
	gw := &fakeGateway{}
	ev := &fakeEvents{}
	c, _ := startCoordinator(t, fb, Options{Payments: gw, Events: ev})

	// pay before confirmation is a local error
	if _, err := c.Pay(context.Background()); err == nil {
		t.Fatal("pay before confirm should fail")
	}

	if err := c.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	token, err := c.Pay(context.Background())
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if token != "tok_b1" {
		t.Fatalf("token = %q", token)
	}
	if gw.calls != 1 || gw.amount != 75000 {
		t.Fatalf("gateway hold calls=%d amount=%d", gw.calls, gw.amount)
	}
	if got := c.View().Status; got != booking.StatusPaid {
		t.Fatalf("status = %s, want paid", got)
	}
	if !ev.has("payment_handoff") || !ev.has("offer_accepted") || !ev.has("booking_created") {
		t.Fatalf("missing lifecycle events: %v", ev.kinds)
	}

	// cancellation is not allowed anymore
	var ise *InvalidStateError
	if err := c.Cancel(context.Background()); !errors.As(err, &ise) {
		t.Fatalf("cancel after pay: expected InvalidStateError, got %v", err)
	}
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	if err := c.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// a fetch that started before the accept finally lands
	stale := newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o9", 40000, t0.Add(time.Minute)))
	u, out := c.OnTick(stale)
	if out != syncsched.OutcomeQuiet {
		t.Fatalf("outcome = %v, want quiet", out)
	}
	if u.Status != booking.StatusConfirmed {
		t.Fatalf("stale snapshot regressed status to %s", u.Status)
	}
	if c.View().Status != booking.StatusConfirmed {
		t.Fatal("stale snapshot mutated local state")
	}
}

func TestCancelledNeverRegresses(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stale := newBooking(pendingOffer("o1", 50000, t0))
	if _, out := c.OnTick(stale); out != syncsched.OutcomeQuiet {
		t.Fatalf("outcome = %v, want quiet", out)
	}
	if got := c.View().Status; got != booking.StatusCancelled {
		t.Fatalf("cancelled state regressed to %s", got)
	}
}

func TestAtMostOneAcceptedAcrossTicks(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o2", 60000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	if err := c.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// every subsequent reconciliation keeps the invariant
	for i := 0; i < 5; i++ {
		snap := fb.serverState()
		c.OnTick(snap)
		if n := snap.AcceptedCount(); n > 1 {
			t.Fatalf("tick %d: accepted count = %d", i, n)
		}
	}
	if got := c.View().AcceptedOfferID; got != "o1" {
		t.Fatalf("accepted offer drifted to %q", got)
	}
}

func TestCloseGuardsLateResults(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{})

	c.Close()

	late := newBooking(pendingOffer("o1", 50000, t0), pendingOffer("o2", 60000, t0))
	if _, out := c.OnTick(late); out != syncsched.OutcomeStop {
		t.Fatalf("tick after close: outcome = %v, want stop", out)
	}
	if err := c.Accept(context.Background(), "o1"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("accept after close: %v", err)
	}
	if err := c.Cancel(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("cancel after close: %v", err)
	}
}

func TestFetchNotFoundKillsSession(t *testing.T) {
	fb := &fakeBackend{res: newBooking()}
	fb.getErr = &backend.APIError{Class: backend.ClassNotFound, StatusCode: http.StatusNotFound, Message: "gone"}

	c := New(fb, idleScheduler(), Options{Logger: testLogger()})
	updates := make(chan Update, 64)
	c.Subscribe(func(u Update) { updates <- u })
	c.Start(context.Background(), newBooking())
	t.Cleanup(c.Close)

	u := waitForNote(t, updates, NoteSessionDead)
	if u.LastError == "" {
		t.Fatal("fatal fetch must surface lastError")
	}
}

func TestRateLimitSurfacedPassively(t *testing.T) {
	fb := &fakeBackend{res: newBooking()}
	fb.getErr = &backend.APIError{Class: backend.ClassRateLimited, StatusCode: http.StatusTooManyRequests, Message: "slow down"}

	c := New(fb, idleScheduler(), Options{Logger: testLogger()})
	updates := make(chan Update, 64)
	c.Subscribe(func(u Update) { updates <- u })
	c.Start(context.Background(), newBooking())
	t.Cleanup(c.Close)

	waitForNote(t, updates, NoteSyncPaused)
}

func TestTransientStreakSurfacesDegradedSync(t *testing.T) {
	fb := &fakeBackend{res: newBooking()}
	fb.getErr = &backend.APIError{Class: backend.ClassTransient, Message: "flaky"}

	sched := syncsched.New(syncsched.Policy{Base: 5 * time.Millisecond, Floor: 2 * time.Millisecond, Max: 20 * time.Millisecond, Cooldown: 100 * time.Millisecond}, testLogger())
	c := New(fb, sched, Options{Logger: testLogger(), FailureThreshold: 3})
	updates := make(chan Update, 256)
	c.Subscribe(func(u Update) { updates <- u })
	c.Start(context.Background(), newBooking())
	t.Cleanup(c.Close)

	waitForNote(t, updates, NoteSyncDegraded)
}

type fakeDirectory struct{}

func (fakeDirectory) Profile(ctx context.Context, driverID string) (booking.DriverRef, bool) {
	if driverID == "drv_o1" {
		return booking.DriverRef{ID: driverID, Name: "Ana", Rating: 4.9, Vehicle: "wagon"}, true
	}
	return booking.DriverRef{}, false
}

func TestOffersEnrichedFromDirectory(t *testing.T) {
	fb := &fakeBackend{res: newBooking(pendingOffer("o1", 50000, t0))}
	c, _ := startCoordinator(t, fb, Options{Directory: fakeDirectory{}})

	deadline := time.After(2 * time.Second)
	for {
		v := c.View()
		if len(v.RankedOffers) == 1 && v.RankedOffers[0].Driver.Name == "Ana" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("offer never enriched: %+v", v.RankedOffers)
		case <-time.After(time.Millisecond):
		}
	}
}
