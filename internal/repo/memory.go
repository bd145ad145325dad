package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventreg/internal/model"
)

// Memory is a process-local Repository. The mutex plays the role of the
// transaction: lookup and insert happen under one lock.
type Memory struct {
	mu            sync.RWMutex
	events        map[string]model.Event
	registrations map[string]model.Registration
	identities    map[string]string
	order         []string
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]model.Event),
		registrations: make(map[string]model.Registration),
		identities:    make(map[string]string),
		now:           time.Now,
	}
}

func identityKey(regNo, eventID string) string {
	return eventID + "|" + regNo
}

func (m *Memory) MigrateUp(string) error   { return nil }
func (m *Memory) MigrateDown(string) error { return nil }

func (m *Memory) CreateEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := m.events[e.ID]; ok {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	now := m.now()
	e.CreatedAt, e.UpdatedAt = now, now
	for i := range e.Passes {
		if e.Passes[i].ID == "" {
			e.Passes[i].ID = uuid.NewString()
		}
		e.Passes[i].EventID = e.ID
	}
	sort.SliceStable(e.Passes, func(i, j int) bool { return e.Passes[i].Price < e.Passes[j].Price })
	m.events[e.ID] = copyEvent(*e)
	return nil
}

func (m *Memory) GetEventByID(_ context.Context, id string) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := copyEvent(e)
	return &out, nil
}

func (m *Memory) GetAllEvents(_ context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		events = append(events, copyEvent(e))
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}

func (m *Memory) CountRegistrations(_ context.Context, eventID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.registrations {
		if r.EventID == eventID && r.PaymentStatus != model.PaymentRejected {
			count++
		}
	}
	return count, nil
}

func (m *Memory) FindByIdentity(_ context.Context, regNo, eventID string) (*model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.identities[identityKey(regNo, eventID)]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	out := copyRegistration(m.registrations[id])
	return &out, nil
}

func (m *Memory) GetRegistrationByID(_ context.Context, id string) (*model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	out := copyRegistration(r)
	return &out, nil
}

// ListRegistrations returns the event's registrations in insertion order.
func (m *Memory) ListRegistrations(_ context.Context, eventID string) ([]model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Registration
	for _, id := range m.order {
		if r := m.registrations[id]; r.EventID == eventID {
			out = append(out, copyRegistration(r))
		}
	}
	return out, nil
}

func (m *Memory) CreateRegistrationWithParticipants(_ context.Context, reg *model.Registration, participants []model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.insertLocked(reg, participants)
}

func (m *Memory) CheckAndCreate(_ context.Context, regNo, eventID string, build BuildFunc) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; !ok {
		return nil, ErrEventNotFound
	}
	if _, ok := m.identities[identityKey(regNo, eventID)]; ok {
		return nil, ErrDuplicateRegistration
	}

	reg, participants, err := build()
	if err != nil {
		return nil, err
	}
	if reg.RegNo != regNo || reg.EventID != eventID {
		return nil, fmt.Errorf("built registration does not match identity %s/%s", regNo, eventID)
	}
	if err := m.insertLocked(reg, participants); err != nil {
		return nil, err
	}
	return reg, nil
}

func (m *Memory) insertLocked(reg *model.Registration, participants []model.Participant) error {
	key := identityKey(reg.RegNo, reg.EventID)
	if _, ok := m.identities[key]; ok {
		return ErrDuplicateRegistration
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.PaymentStatus == "" {
		reg.PaymentStatus = model.PaymentPending
	}
	now := m.now()
	reg.CreatedAt, reg.UpdatedAt = now, now

	seen := make(map[int]bool, len(participants))
	reg.Participants = make([]model.Participant, 0, len(participants))
	for _, p := range participants {
		if seen[p.MemberNumber] {
			return fmt.Errorf("failed to create participant %d: duplicate member number", p.MemberNumber)
		}
		seen[p.MemberNumber] = true
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.RegistrationID = reg.ID
		reg.Participants = append(reg.Participants, p)
	}

	m.registrations[reg.ID] = copyRegistration(*reg)
	m.identities[key] = reg.ID
	m.order = append(m.order, reg.ID)
	return nil
}

func (m *Memory) UpdatePaymentFields(_ context.Context, id string, upd model.PaymentUpdate) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	if !r.PaymentStatus.CanTransitionTo(upd.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.PaymentStatus, upd.Status)
	}

	r.TransactionID = upd.TransactionID
	if upd.ScreenshotURL != nil && *upd.ScreenshotURL != "" {
		r.ScreenshotURL = *upd.ScreenshotURL
	}
	r.PaymentStatus = upd.Status
	r.UpdatedAt = m.now()
	m.registrations[id] = r

	out := copyRegistration(r)
	return &out, nil
}

func copyEvent(e model.Event) model.Event {
	passes := make([]model.Pass, len(e.Passes))
	for i, p := range e.Passes {
		p.Benefits = append([]string(nil), p.Benefits...)
		passes[i] = p
	}
	e.Passes = passes
	return e
}

func copyRegistration(r model.Registration) model.Registration {
	r.Participants = append([]model.Participant(nil), r.Participants...)
	return r
}
