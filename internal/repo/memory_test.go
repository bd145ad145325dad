package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"eventreg/internal/model"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Memory
	ctx   context.Context
	event *model.Event
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
	s.event = &model.Event{
		Title: "Hack Night",
		Date:  time.Date(2026, 11, 20, 10, 0, 0, 0, time.UTC),
		Passes: []model.Pass{
			{Type: model.PassCouple, Price: 349},
			{Type: model.PassSolo, Price: 199},
		},
	}
	s.Require().NoError(s.store.CreateEvent(s.ctx, s.event))
}

func newRegistration(eventID, regNo string) (*model.Registration, []model.Participant) {
	member := model.Member{
		FirstName: "John", LastName: "Doe", RegNo: regNo,
		Email: "john." + regNo + "@vitbhopal.ac.in", Mobile: "9876543210",
	}
	reg := &model.Registration{
		EventID:    eventID,
		Member:     member,
		PassType:   model.PassSolo,
		Slot:       model.SlotMorning,
		TotalPrice: 199,
	}
	return reg, []model.Participant{{MemberNumber: 1, Member: member}}
}

func (s *MemoryStoreSuite) build(regNo string) BuildFunc {
	return func() (*model.Registration, []model.Participant, error) {
		reg, parts := newRegistration(s.event.ID, regNo)
		return reg, parts, nil
	}
}

func (s *MemoryStoreSuite) TestEvents() {
	s.Run("passes are ordered by price", func() {
		e, err := s.store.GetEventByID(s.ctx, s.event.ID)
		s.Require().NoError(err)
		s.Require().Len(e.Passes, 2)
		s.Equal(model.PassSolo, e.Passes[0].Type)
	})

	s.Run("unknown event", func() {
		_, err := s.store.GetEventByID(s.ctx, "missing")
		s.ErrorIs(err, ErrEventNotFound)
	})

	s.Run("list ordered by date", func() {
		earlier := &model.Event{Title: "Earlier", Date: s.event.Date.Add(-48 * time.Hour)}
		s.Require().NoError(s.store.CreateEvent(s.ctx, earlier))

		events, err := s.store.GetAllEvents(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal("Earlier", events[0].Title)
	})
}

func (s *MemoryStoreSuite) TestCheckAndCreate() {
	s.Run("creates pending registration with participants", func() {
		reg, err := s.store.CheckAndCreate(s.ctx, "25BCE10001", s.event.ID, s.build("25BCE10001"))
		s.Require().NoError(err)
		s.NotEmpty(reg.ID)
		s.Equal(model.PaymentPending, reg.PaymentStatus)
		s.Require().Len(reg.Participants, 1)
		s.Equal(reg.ID, reg.Participants[0].RegistrationID)

		found, err := s.store.FindByIdentity(s.ctx, "25BCE10001", s.event.ID)
		s.Require().NoError(err)
		s.Equal(reg.ID, found.ID)

		count, err := s.store.CountRegistrations(s.ctx, s.event.ID)
		s.Require().NoError(err)
		s.Equal(1, count)
	})

	s.Run("second submission is a duplicate", func() {
		_, err := s.store.CheckAndCreate(s.ctx, "25BCE10001", s.event.ID, s.build("25BCE10001"))
		s.ErrorIs(err, ErrDuplicateRegistration)
	})

	s.Run("unknown event", func() {
		_, err := s.store.CheckAndCreate(s.ctx, "25BCE10002", "missing", s.build("25BCE10002"))
		s.ErrorIs(err, ErrEventNotFound)
	})

	s.Run("builder errors abort", func() {
		boom := errors.New("boom")
		_, err := s.store.CheckAndCreate(s.ctx, "25BCE10003", s.event.ID, func() (*model.Registration, []model.Participant, error) {
			return nil, nil, boom
		})
		s.ErrorIs(err, boom)
		_, err = s.store.FindByIdentity(s.ctx, "25BCE10003", s.event.ID)
		s.ErrorIs(err, ErrRegistrationNotFound)
	})

	s.Run("builder must match identity", func() {
		_, err := s.store.CheckAndCreate(s.ctx, "25BCE10004", s.event.ID, s.build("25BCE10005"))
		s.Error(err)
	})
}

// TestConcurrentSubmissions verifies that concurrent creates for one identity
// produce exactly one registration.
func (s *MemoryStoreSuite) TestConcurrentSubmissions() {
	const goroutines = 32

	var wg sync.WaitGroup
	var successCount, duplicateCount atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.CheckAndCreate(s.ctx, "23BCY30003", s.event.ID, s.build("23BCY30003"))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, ErrDuplicateRegistration) {
				duplicateCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), duplicateCount.Load())
}

func (s *MemoryStoreSuite) TestUpdatePaymentFields() {
	reg, err := s.store.CheckAndCreate(s.ctx, "25BCE10001", s.event.ID, s.build("25BCE10001"))
	s.Require().NoError(err)

	s.Run("unknown registration", func() {
		_, err := s.store.UpdatePaymentFields(s.ctx, "missing", model.PaymentUpdate{Status: model.PaymentVerifying})
		s.ErrorIs(err, ErrRegistrationNotFound)
	})

	s.Run("pending to verifying keeps url when none supplied", func() {
		url := "https://cdn.example/john_25BCE10001.png"
		seeded, _ := newRegistration(s.event.ID, "25BCE10009")
		seeded.ScreenshotURL = url
		s.Require().NoError(s.store.CreateRegistrationWithParticipants(s.ctx, seeded, nil))

		updated, err := s.store.UpdatePaymentFields(s.ctx, seeded.ID, model.PaymentUpdate{
			TransactionID: "123456789012",
			Status:        model.PaymentVerifying,
		})
		s.Require().NoError(err)
		s.Equal(url, updated.ScreenshotURL)
		s.Equal("123456789012", updated.TransactionID)
	})

	s.Run("sets url and status", func() {
		url := "https://cdn.example/proof.jpg"
		updated, err := s.store.UpdatePaymentFields(s.ctx, reg.ID, model.PaymentUpdate{
			TransactionID: "TXN1",
			ScreenshotURL: &url,
			Status:        model.PaymentVerifying,
		})
		s.Require().NoError(err)
		s.Equal(model.PaymentVerifying, updated.PaymentStatus)
		s.Equal(url, updated.ScreenshotURL)
	})

	s.Run("verifying cannot go back to verifying", func() {
		_, err := s.store.UpdatePaymentFields(s.ctx, reg.ID, model.PaymentUpdate{TransactionID: "TXN2", Status: model.PaymentVerifying})
		s.ErrorIs(err, ErrInvalidTransition)
	})
}

func (s *MemoryStoreSuite) TestReturnedValuesAreCopies() {
	reg, err := s.store.CheckAndCreate(s.ctx, "25BCE10001", s.event.ID, s.build("25BCE10001"))
	s.Require().NoError(err)

	first, err := s.store.GetRegistrationByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	first.Participants[0].FirstName = "Mallory"
	first.PaymentStatus = model.PaymentConfirmed

	second, err := s.store.GetRegistrationByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal("John", second.Participants[0].FirstName)
	s.Equal(model.PaymentPending, second.PaymentStatus)
}

func (s *MemoryStoreSuite) TestListRegistrations() {
	other := &model.Event{Title: "Other", Date: s.event.Date}
	s.Require().NoError(s.store.CreateEvent(s.ctx, other))

	first, err := s.store.CheckAndCreate(s.ctx, "25BCE10001", s.event.ID, s.build("25BCE10001"))
	s.Require().NoError(err)
	second, err := s.store.CheckAndCreate(s.ctx, "24BCY20002", s.event.ID, s.build("24BCY20002"))
	s.Require().NoError(err)
	elsewhere, parts := newRegistration(other.ID, "23BCE30003")
	s.Require().NoError(s.store.CreateRegistrationWithParticipants(s.ctx, elsewhere, parts))

	regs, err := s.store.ListRegistrations(s.ctx, s.event.ID)
	s.Require().NoError(err)
	s.Require().Len(regs, 2)
	s.Equal(first.ID, regs[0].ID)
	s.Equal(second.ID, regs[1].ID)
	s.Len(regs[0].Participants, 1)

	empty, err := s.store.ListRegistrations(s.ctx, "missing")
	s.Require().NoError(err)
	s.Empty(empty)
}
