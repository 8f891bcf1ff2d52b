package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// errUnlockedInsert fails a commit whose inserts were made without the professional/day lock.
var errUnlockedInsert = errors.New("memledger: insert without professional day lock")

// memLedger mimics the Postgres ledger: per-key locks held until commit and an
// overlap check at commit standing in for the exclusion constraint. constraintHits counts
// commits that only the constraint stopped; a correctly serialized Book never reaches it.
type memLedger struct {
	mu             sync.Mutex
	appts          map[string]model.Appointment
	keys           map[string]string
	events         []outbox.Event
	locks          sync.Map
	busy           bool
	constraintHits int
}

func newMemLedger(seed ...model.Appointment) *memLedger {
	l := &memLedger{appts: map[string]model.Appointment{}, keys: map[string]string{}}
	for _, a := range seed {
		l.appts[a.ID] = a
	}
	return l
}

func (l *memLedger) lockFor(key string) *sync.Mutex {
	m, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func (l *memLedger) Begin(context.Context) (ledger.Tx, error) {
	return &memTx{l: l, updates: map[string]model.Appointment{}, keys: map[string]string{}, days: map[string]bool{}}, nil
}

func (l *memLedger) Get(_ context.Context, orgID, id string) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.appts[id]
	if !ok || a.OrganizationID != orgID {
		return model.Appointment{}, ledger.ErrNotFound
	}
	return a, nil
}

func (l *memLedger) ListActive(_ context.Context, orgID, profID string, from, to time.Time) ([]model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter(func(a model.Appointment) bool {
		return a.OrganizationID == orgID && a.ProfessionalID == profID && a.Status.Occupies() && a.Overlaps(from, to)
	}), nil
}

func (l *memLedger) ListByProfessional(_ context.Context, orgID, profID string, from, to time.Time) ([]model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter(func(a model.Appointment) bool {
		return a.OrganizationID == orgID && a.ProfessionalID == profID && !a.Start.Before(from) && a.Start.Before(to)
	}), nil
}

func (l *memLedger) filter(keep func(model.Appointment) bool) []model.Appointment {
	var out []model.Appointment
	for _, a := range l.appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (l *memLedger) active(profID string) []model.Appointment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter(func(a model.Appointment) bool { return a.ProfessionalID == profID && a.Status.Occupies() })
}

func (l *memLedger) storageRejections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.constraintHits
}

func dayKey(profID string, t time.Time) string {
	return profID + "|" + t.UTC().Format(model.DateLayout)
}

func (l *memLedger) eventTypes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.EventType)
	}
	return out
}

type memTx struct {
	l       *memLedger
	held    []*sync.Mutex
	inserts []model.Appointment
	updates map[string]model.Appointment
	keys    map[string]string
	events  []outbox.Event
	days    map[string]bool
	done    bool
}

func (t *memTx) hold(key string) {
	m := t.l.lockFor(key)
	m.Lock()
	t.held = append(t.held, m)
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
	t.done = true
}

func (t *memTx) LockProfessionalDay(_ context.Context, profID string, day time.Time) error {
	if t.l.busy {
		return ledger.ErrBusy
	}
	key := dayKey(profID, day)
	t.hold("day:" + key)
	t.days[key] = true
	return nil
}

func (t *memTx) ListActive(ctx context.Context, orgID, profID string, from, to time.Time) ([]model.Appointment, error) {
	return t.l.ListActive(ctx, orgID, profID, from, to)
}

func (t *memTx) Insert(_ context.Context, a model.Appointment) error {
	t.inserts = append(t.inserts, a)
	return nil
}

func (t *memTx) Get(ctx context.Context, orgID, id string) (model.Appointment, error) {
	return t.l.Get(ctx, orgID, id)
}

func (t *memTx) GetForUpdate(ctx context.Context, orgID, id string) (model.Appointment, error) {
	a, err := t.l.Get(ctx, orgID, id)
	if err != nil {
		return a, err
	}
	t.hold("row:" + id)
	return t.l.Get(ctx, orgID, id)
}

func (t *memTx) UpdateStatus(_ context.Context, a model.Appointment) error {
	t.updates[a.ID] = a
	return nil
}

func (t *memTx) LockIdempotencyKey(_ context.Context, orgID, key string) (string, error) {
	t.hold("key:" + orgID + "|" + key)
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return t.l.keys[orgID+"|"+key], nil
}

func (t *memTx) FinalizeIdempotency(_ context.Context, orgID, key, id string) error {
	t.keys[orgID+"|"+key] = id
	return nil
}

func (t *memTx) Enqueue(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *memTx) Commit(context.Context) error {
	defer t.release()
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	for _, in := range t.inserts {
		if !t.days[dayKey(in.ProfessionalID, in.Start)] {
			return errUnlockedInsert
		}
		for _, a := range t.l.appts {
			if a.ProfessionalID == in.ProfessionalID && a.Status.Occupies() && a.Overlaps(in.Start, in.End) {
				t.l.constraintHits++
				return ledger.ErrOverlap
			}
		}
	}
	for _, in := range t.inserts {
		t.l.appts[in.ID] = in
	}
	for id, a := range t.updates {
		t.l.appts[id] = a
	}
	for k, v := range t.keys {
		t.l.keys[k] = v
	}
	t.l.events = append(t.l.events, t.events...)
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.release()
	}
	return nil
}

type fakeDirectory struct {
	professionals map[string]string
	patients      map[string]string
	services      map[string]model.Service
}

func (d fakeDirectory) ProfessionalOrganization(_ context.Context, id string) (string, error) {
	org, ok := d.professionals[id]
	if !ok {
		return "", directory.ErrNotFound
	}
	return org, nil
}

func (d fakeDirectory) PatientOrganization(_ context.Context, id string) (string, error) {
	org, ok := d.patients[id]
	if !ok {
		return "", directory.ErrNotFound
	}
	return org, nil
}

func (d fakeDirectory) Service(_ context.Context, id string) (model.Service, error) {
	svc, ok := d.services[id]
	if !ok {
		return model.Service{}, directory.ErrNotFound
	}
	return svc, nil
}

type fakeHours map[time.Weekday]model.BusinessHours

func (h fakeHours) Get(_ context.Context, orgID string, weekday time.Weekday) (*model.BusinessHours, error) {
	bh, ok := h[weekday]
	if !ok || bh.OrganizationID != orgID {
		return nil, nil
	}
	return &bh, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
