package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopcal/shopcal/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	appts       map[string]model.Appointment
	completions map[string]time.Time
	visits      map[string]int
	spend       map[string]decimal.Decimal
	revenue     map[string]decimal.Decimal
	completed   map[string]int
	failUpdate  error
}

func newMemStore(appts ...model.Appointment) *memStore {
	s := &memStore{
		appts:       map[string]model.Appointment{},
		completions: map[string]time.Time{},
		visits:      map[string]int{},
		spend:       map[string]decimal.Decimal{},
		revenue:     map[string]decimal.Decimal{},
		completed:   map[string]int{},
	}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

// InTx applies writes only when fn succeeds.
func (s *memStore) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	snapshot := *s
	snapshot.appts = cloneMap(s.appts)
	snapshot.completions = cloneMap(s.completions)
	snapshot.visits = cloneMap(s.visits)
	snapshot.spend = cloneMap(s.spend)
	snapshot.revenue = cloneMap(s.revenue)
	snapshot.completed = cloneMap(s.completed)
	if err := fn(ctx, &snapshot); err != nil {
		return err
	}
	*s = snapshot
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) AppointmentForUpdate(_ context.Context, shopID, id string) (model.Appointment, error) {
	a, ok := s.appts[id]
	if !ok || a.ShopID != shopID {
		return model.Appointment{}, &model.NotFoundError{Entity: "appointment", ID: id}
	}
	return a, nil
}

func (s *memStore) UpdateAppointment(_ context.Context, a model.Appointment) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	s.appts[a.ID] = a
	return nil
}

func (s *memStore) RecordCompletion(_ context.Context, a model.Appointment, at time.Time) (bool, error) {
	if _, ok := s.completions[a.ID]; ok {
		return false, nil
	}
	s.completions[a.ID] = at
	return true, nil
}

func (s *memStore) AddClientVisit(_ context.Context, a model.Appointment) error {
	s.visits[a.ClientID]++
	s.spend[a.ClientID] = s.spend[a.ClientID].Add(a.Price)
	return nil
}

func (s *memStore) AddDailyRevenue(_ context.Context, a model.Appointment) error {
	day := a.ShopID + "/" + a.StartTime.Format("2006-01-02")
	s.revenue[day] = s.revenue[day].Add(a.Price)
	s.completed[day]++
	return nil
}

type statusEvent struct {
	id       string
	from, to model.Status
}

type recordingNotifier struct {
	events []statusEvent
	err    error
}

func (n *recordingNotifier) StatusChanged(_ context.Context, a model.Appointment, from model.Status) error {
	n.events = append(n.events, statusEvent{id: a.ID, from: from, to: a.Status})
	return n.err
}

var (
	start   = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	fixedAt = time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC)
)

func scheduled(id, client string) model.Appointment {
	return model.Appointment{
		ID: id, ShopID: "shop-1", ClientID: client, Status: model.StatusScheduled,
		StartTime: start, EndTime: start.Add(30 * time.Minute), DurationMinutes: 30,
		Price: decimal.RequireFromString("40.50"),
	}
}

func newTestMachine(store *memStore, n *recordingNotifier) *Machine {
	m := NewMachine(store, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return fixedAt }
	return m
}

func TestAllowed(t *testing.T) {
	s := model.StatusScheduled
	c := model.StatusConfirmed
	p := model.StatusInProgress
	done := model.StatusCompleted
	x := model.StatusCancelled
	ns := model.StatusNoShow

	allowed := [][2]model.Status{
		{s, c}, {s, p}, {s, done}, {c, p}, {c, done}, {p, done},
		{s, x}, {c, x}, {p, x}, {s, ns}, {c, ns}, {p, ns},
	}
	for _, tr := range allowed {
		assert.True(t, Allowed(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	forbidden := [][2]model.Status{
		{c, s}, {p, c}, {p, s}, {done, s}, {done, x}, {x, s}, {x, done}, {ns, s}, {ns, x}, {s, s},
	}
	for _, tr := range forbidden {
		assert.False(t, Allowed(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTransition_ForwardAndNotify(t *testing.T) {
	store := newMemStore(scheduled("a1", "c1"))
	n := &recordingNotifier{}
	m := newTestMachine(store, n)

	a, err := m.Transition(context.Background(), "shop-1", "a1", "confirmed", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, a.Status)
	assert.Equal(t, fixedAt, a.UpdatedAt)

	_, err = m.Transition(context.Background(), "shop-1", "a1", "in_progress", nil)
	require.NoError(t, err)

	assert.Equal(t, []statusEvent{{id: "a1", from: model.StatusScheduled, to: model.StatusConfirmed}}, n.events,
		"only confirmed and cancelled trigger notifications")
}

func TestTransition_RejectsBackwardAndTerminal(t *testing.T) {
	confirmed := scheduled("a1", "")
	confirmed.Status = model.StatusConfirmed
	done := scheduled("a2", "")
	done.Status = model.StatusCompleted
	store := newMemStore(confirmed, done)
	m := newTestMachine(store, &recordingNotifier{})

	_, err := m.Transition(context.Background(), "shop-1", "a1", "scheduled", nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = m.Transition(context.Background(), "shop-1", "a2", "cancelled", nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, model.StatusCompleted, store.appts["a2"].Status)
}

func TestTransition_UnknownStatusAndMissing(t *testing.T) {
	store := newMemStore(scheduled("a1", ""))
	m := newTestMachine(store, &recordingNotifier{})

	var ve *model.ValidationError
	_, err := m.Transition(context.Background(), "shop-1", "a1", "paused", nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)

	var nf *model.NotFoundError
	_, err = m.Transition(context.Background(), "shop-1", "missing", "confirmed", nil)
	require.ErrorAs(t, err, &nf)

	_, err = m.Transition(context.Background(), "shop-2", "a1", "confirmed", nil)
	require.ErrorAs(t, err, &nf, "appointments of other shops are invisible")
}

func TestTransition_SameStatusUpdatesNotes(t *testing.T) {
	store := newMemStore(scheduled("a1", ""))
	n := &recordingNotifier{}
	m := newTestMachine(store, n)

	notes := "  prefers clippers  "
	a, err := m.Transition(context.Background(), "shop-1", "a1", "scheduled", &notes)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, a.Status)
	assert.Equal(t, "prefers clippers", store.appts["a1"].Notes)
	assert.Empty(t, n.events)
}

func TestTransition_CompletionCountedOnce(t *testing.T) {
	store := newMemStore(scheduled("a1", "c1"))
	m := newTestMachine(store, &recordingNotifier{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, err := m.Transition(ctx, "shop-1", "a1", "completed", nil)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, a.Status)
	}

	assert.Equal(t, 1, store.visits["c1"])
	assert.True(t, store.spend["c1"].Equal(decimal.RequireFromString("40.50")))
	assert.True(t, store.revenue["shop-1/2026-03-04"].Equal(decimal.RequireFromString("40.50")))
	assert.Equal(t, 1, store.completed["shop-1/2026-03-04"])
}

func TestRecordCompletion_Idempotent(t *testing.T) {
	store := newMemStore()
	a := scheduled("a1", "c1")
	a.Status = model.StatusCompleted

	require.NoError(t, recordCompletion(context.Background(), store, a, fixedAt))
	require.NoError(t, recordCompletion(context.Background(), store, a, fixedAt.Add(time.Minute)))

	assert.Equal(t, 1, store.visits["c1"])
	assert.Equal(t, 1, store.completed["shop-1/2026-03-04"])
	assert.Equal(t, fixedAt, store.completions["a1"])
}

func TestTransition_GuestCompletionSkipsClientStats(t *testing.T) {
	store := newMemStore(scheduled("a1", ""))
	m := newTestMachine(store, &recordingNotifier{})

	_, err := m.Transition(context.Background(), "shop-1", "a1", "completed", nil)
	require.NoError(t, err)
	assert.Empty(t, store.visits)
	assert.Equal(t, 1, store.completed["shop-1/2026-03-04"])
}

func TestTransition_FailedUpdateCountsNothing(t *testing.T) {
	store := newMemStore(scheduled("a1", "c1"))
	store.failUpdate = errors.New("connection reset")
	m := newTestMachine(store, &recordingNotifier{})

	_, err := m.Transition(context.Background(), "shop-1", "a1", "completed", nil)
	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, store.completions)
	assert.Zero(t, store.visits["c1"])

	store.failUpdate = nil
	_, err = m.Transition(context.Background(), "shop-1", "a1", "completed", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.visits["c1"])
}

func TestTransition_NotifierFailureIsNotFatal(t *testing.T) {
	store := newMemStore(scheduled("a1", ""))
	m := newTestMachine(store, &recordingNotifier{err: errors.New("queue down")})

	a, err := m.Transition(context.Background(), "shop-1", "a1", "cancelled", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, a.Status)
}

func TestSoftCancel(t *testing.T) {
	store := newMemStore(scheduled("a1", ""))
	n := &recordingNotifier{}
	m := newTestMachine(store, n)
	ctx := context.Background()

	res, err := m.SoftCancel(ctx, "shop-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, Cancellation{AppointmentID: "a1", Status: model.StatusCancelled, DeletedAt: fixedAt}, res)
	require.NotNil(t, store.appts["a1"].DeletedAt)

	m.now = func() time.Time { return fixedAt.Add(time.Hour) }
	again, err := m.SoftCancel(ctx, "shop-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, res, again, "repeat cancel keeps the original marker")
	assert.Len(t, n.events, 1)
}

func TestSoftCancel_AlreadyCancelledGetsMarker(t *testing.T) {
	a := scheduled("a1", "")
	a.Status = model.StatusCancelled
	store := newMemStore(a)
	n := &recordingNotifier{}
	m := newTestMachine(store, n)

	res, err := m.SoftCancel(context.Background(), "shop-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, fixedAt, res.DeletedAt)
	assert.Empty(t, n.events, "status did not change")
}

func TestSoftCancel_CompletedIsRejected(t *testing.T) {
	a := scheduled("a1", "")
	a.Status = model.StatusCompleted
	m := newTestMachine(newMemStore(a), &recordingNotifier{})

	_, err := m.SoftCancel(context.Background(), "shop-1", "a1")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	var ve *model.ValidationError
	_, err = m.SoftCancel(context.Background(), "", "a1")
	assert.ErrorAs(t, err, &ve)
}
