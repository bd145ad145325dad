package registration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"eventreg/internal/metrics"
	"eventreg/internal/model"
	"eventreg/internal/repo"
	"eventreg/internal/storage"
	"eventreg/internal/validation"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationKind, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}

type uploaderFunc func(ctx context.Context, f storage.File, firstName, regNo string, fallbacks ...string) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, file storage.File, firstName, regNo string, fallbacks ...string) (string, error) {
	return f(ctx, file, firstName, regNo, fallbacks...)
}

// flakyRepo fails event reads the way a dropped connection does.
type flakyRepo struct {
	repo.Repository
}

func (flakyRepo) GetEventByID(context.Context, string) (*model.Event, error) {
	return nil, fmt.Errorf("get event: %w: %w", repo.ErrUnavailable, errors.New("connection refused"))
}

type WorkflowSuite struct {
	suite.Suite
	ctx      context.Context
	repo     *repo.Memory
	store    *storage.MemoryStore
	notifier *recordingNotifier
	svc      *Service
	event    *model.Event
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	log := zerolog.Nop()
	s.ctx = context.Background()
	s.repo = repo.NewMemory()
	s.store = storage.NewMemoryStore("https://cdn.test/payments")
	s.notifier = &recordingNotifier{}
	s.svc = New(s.repo, storage.NewAdapter(s.store, &log), validation.New(validation.DefaultRules()),
		s.notifier, metrics.New(prometheus.NewRegistry()), &log)

	s.event = &model.Event{
		Title: "Hack Night",
		Date:  time.Date(2026, 11, 20, 10, 0, 0, 0, time.UTC),
		Passes: []model.Pass{
			{Type: model.PassSolo, Price: 199},
			{Type: model.PassCouple, Price: 349},
		},
	}
	s.Require().NoError(s.repo.CreateEvent(s.ctx, s.event))
}

func member(firstName, regNo string) model.Member {
	return model.Member{
		FirstName: firstName,
		LastName:  "Doe",
		RegNo:     regNo,
		Email:     fmt.Sprintf("%s.%s@vitbhopal.ac.in", firstName, regNo),
		Mobile:    "9876543210",
	}
}

func (s *WorkflowSuite) solo(regNo string) SubmitInput {
	return SubmitInput{
		EventID:  s.event.ID,
		PassType: "solo",
		Member1:  member("john", regNo),
		Slot:     "MORNING",
	}
}

func (s *WorkflowSuite) submit(regNo string) *model.Registration {
	reg, err := s.svc.Submit(s.ctx, s.solo(regNo))
	s.Require().NoError(err)
	return reg
}

func png() *storage.File {
	body := make([]byte, 2048)
	copy(body, "\x89PNG\r\n\x1a\n")
	return &storage.File{Name: "proof.png", Size: int64(len(body)), Content: bytes.NewReader(body)}
}

func (s *WorkflowSuite) requireKind(err error, kind Kind) *Error {
	s.Require().Error(err)
	var re *Error
	s.Require().ErrorAs(err, &re)
	s.Require().Equal(kind, re.Kind, re.Error())
	return re
}

func (s *WorkflowSuite) TestSubmitSolo() {
	reg := s.submit("25bce10001")

	s.Equal(model.PaymentPending, reg.PaymentStatus)
	s.Equal("25BCE10001", reg.RegNo)
	s.Equal(199, reg.TotalPrice)
	s.Equal(model.SlotMorning, reg.Slot)
	s.Require().Len(reg.Participants, 1)
	s.Equal(1, reg.Participants[0].MemberNumber)
	s.Equal([]model.NotificationKind{model.NotifyRegistrationPending}, s.notifier.kinds())
}

func (s *WorkflowSuite) TestSubmitCouple() {
	m2 := member("jane", "24BCY20002")
	in := s.solo("25BCE10001")
	in.PassType = "couple"
	in.Member2 = &m2

	reg, err := s.svc.Submit(s.ctx, in)
	s.Require().NoError(err)
	s.Equal(349, reg.TotalPrice)
	s.Require().Len(reg.Participants, 2)
	s.Equal("24BCY20002", reg.Participants[1].RegNo)
	s.Equal(2, reg.Participants[1].MemberNumber)
}

func (s *WorkflowSuite) TestSubmitValidation() {
	s.Run("first failing field wins", func() {
		in := s.solo("BAD")
		in.Member1.Mobile = "12345"

		_, err := s.svc.Submit(s.ctx, in)
		re := s.requireKind(err, KindValidation)
		s.Equal("Registration number must be exactly 10 characters", re.Message)
		s.Contains(re.Fields, validation.FieldMobile)
	})

	s.Run("pass must exist on the event", func() {
		in := s.solo("25BCE10001")
		in.PassType = "vip"
		_, err := s.svc.Submit(s.ctx, in)
		re := s.requireKind(err, KindValidation)
		s.Equal("Selected pass is not available for this event", re.Message)
	})

	s.Run("no side effects", func() {
		count, err := s.repo.CountRegistrations(s.ctx, s.event.ID)
		s.Require().NoError(err)
		s.Zero(count)
		s.Empty(s.notifier.kinds())
	})
}

func (s *WorkflowSuite) TestSubmitUnknownEvent() {
	in := s.solo("25BCE10001")
	in.EventID = "missing"
	_, err := s.svc.Submit(s.ctx, in)
	re := s.requireKind(err, KindNotFound)
	s.Equal(MsgEventNotFound, re.Message)
}

func (s *WorkflowSuite) TestSequentialDuplicate() {
	s.submit("25BCE10001")

	_, err := s.svc.Submit(s.ctx, s.solo("25bce10001"))
	re := s.requireKind(err, KindDuplicate)
	s.Equal(MsgDuplicate, re.Message)
	s.ErrorIs(err, repo.ErrDuplicateRegistration)
}

// TestConcurrentDuplicate verifies that racing submissions for one identity
// yield exactly one registration.
func (s *WorkflowSuite) TestConcurrentDuplicate() {
	const goroutines = 16

	var wg sync.WaitGroup
	results := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Submit(s.ctx, s.solo("23BCY30003"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch KindOf(err) {
		case KindDuplicate:
			dup++
		default:
			if err == nil {
				ok++
			}
		}
	}
	s.Equal(1, ok)
	s.Equal(goroutines-1, dup)
}

func (s *WorkflowSuite) TestConfirmPayment() {
	reg := s.submit("25BCE10001")

	res, err := s.svc.ConfirmPayment(s.ctx, ConfirmInput{
		RegistrationID: reg.ID,
		TransactionID:  " 412345678901 ",
		Screenshot:     png(),
	})
	s.Require().NoError(err)
	s.Equal(MsgPaymentSubmitted, res.Message)
	s.Equal(model.PaymentVerifying, res.Registration.PaymentStatus)
	s.Equal("412345678901", res.Registration.TransactionID)
	s.Equal("https://cdn.test/payments/john_25BCE10001.png", res.Registration.ScreenshotURL)
	s.Equal([]model.NotificationKind{model.NotifyRegistrationPending, model.NotifyPaymentVerifying}, s.notifier.kinds())

	_, err = s.svc.ConfirmPayment(s.ctx, ConfirmInput{RegistrationID: reg.ID, TransactionID: "412345678902"})
	s.requireKind(err, KindInvalidState)
}

func (s *WorkflowSuite) TestConfirmPaymentRequiresTransactionID() {
	reg := s.submit("25BCE10001")

	for _, id := range []string{reg.ID, "missing"} {
		_, err := s.svc.ConfirmPayment(s.ctx, ConfirmInput{RegistrationID: id, TransactionID: "   ", Screenshot: png()})
		re := s.requireKind(err, KindValidation)
		s.Equal(MsgTransactionRequired, re.Message)
	}
	s.Zero(s.store.Puts())

	got, err := s.svc.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(model.PaymentPending, got.PaymentStatus)
}

func (s *WorkflowSuite) TestConfirmPaymentWithoutScreenshot() {
	reg := s.submit("25BCE10001")

	res, err := s.svc.ConfirmPayment(s.ctx, ConfirmInput{RegistrationID: reg.ID, TransactionID: "412345678901"})
	s.Require().NoError(err)
	s.Equal(model.PaymentVerifying, res.Registration.PaymentStatus)
	s.Empty(res.Registration.ScreenshotURL)
}

func (s *WorkflowSuite) TestConfirmPaymentUnknownRegistration() {
	_, err := s.svc.ConfirmPayment(s.ctx, ConfirmInput{RegistrationID: "missing", TransactionID: "1"})
	re := s.requireKind(err, KindNotFound)
	s.Equal(MsgRegistrationNotFound, re.Message)
}

func (s *WorkflowSuite) TestConfirmPaymentRejectsBadFile() {
	reg := s.submit("25BCE10001")
	text := []byte("not a screenshot")

	_, err := s.svc.ConfirmPayment(s.ctx, ConfirmInput{
		RegistrationID: reg.ID,
		TransactionID:  "412345678901",
		Screenshot:     &storage.File{Name: "proof.txt", Size: int64(len(text)), Content: bytes.NewReader(text)},
	})
	re := s.requireKind(err, KindValidation)
	s.Equal(MsgFileType, re.Fields[FieldScreenshot])

	got, err := s.svc.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(model.PaymentPending, got.PaymentStatus)
	s.Empty(got.TransactionID)
}

func (s *WorkflowSuite) TestConfirmPaymentReusesEarlierUpload() {
	reg := s.submit("25BCE10001")
	taken := "john_25BCE10001.png"
	own := "john_25BCE10001_" + reg.ID[:8] + ".png"
	s.Require().NoError(s.store.Put(s.ctx, taken, "image/png", []byte("other")))
	s.Require().NoError(s.store.Put(s.ctx, own, "image/png", []byte("mine")))

	res, err := s.svc.ConfirmPayment(s.ctx, ConfirmInput{RegistrationID: reg.ID, TransactionID: "412345678901", Screenshot: png()})
	s.Require().NoError(err)
	s.Equal(s.store.PublicURL(own), res.Registration.ScreenshotURL)

	_, body, _ := s.store.Get(own)
	s.Equal([]byte("mine"), body)
}

func (s *WorkflowSuite) TestConfirmPaymentStorageUnavailable() {
	log := zerolog.Nop()
	down := uploaderFunc(func(context.Context, storage.File, string, string, ...string) (string, error) {
		return "", &storage.Error{Reason: storage.ReasonUnavailable, Err: storage.ErrUnavailable}
	})
	svc := New(s.repo, down, validation.New(validation.DefaultRules()), nil, nil, &log)
	reg := s.submit("25BCE10001")

	_, err := svc.ConfirmPayment(s.ctx, ConfirmInput{RegistrationID: reg.ID, TransactionID: "412345678901", Screenshot: png()})
	re := s.requireKind(err, KindStorage)
	s.Equal(MsgStorageRetry, re.Message)

	got, err := s.svc.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(model.PaymentPending, got.PaymentStatus)
}

func (s *WorkflowSuite) TestDatabaseUnavailable() {
	log := zerolog.Nop()
	svc := New(flakyRepo{Repository: s.repo}, nil, validation.New(validation.DefaultRules()), nil, nil, &log)

	_, err := svc.Submit(s.ctx, s.solo("25BCE10001"))
	re := s.requireKind(err, KindStorage)
	s.Equal(MsgStorageRetry, re.Message)
	s.NotContains(re.Message, "connection refused")
}

func (s *WorkflowSuite) TestNotifierFailureDoesNotFailSubmit() {
	s.notifier.err = errors.New("broker down")
	_, err := s.svc.Submit(s.ctx, s.solo("25BCE10001"))
	s.NoError(err)
}

func (s *WorkflowSuite) TestGetRegistrationIsIdempotent() {
	reg := s.submit("25BCE10001")

	first, err := s.svc.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	second, err := s.svc.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(first, second)

	_, err = s.svc.GetRegistration(s.ctx, "missing")
	s.requireKind(err, KindNotFound)
}

func (s *WorkflowSuite) TestListEventsCountsRegistrations() {
	s.submit("25BCE10001")
	s.submit("25BCE10002")

	events, err := s.svc.ListEvents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(2, events[0].Registered)
	s.Equal("Hack Night", events[0].Title)

	one, err := s.svc.GetEvent(s.ctx, s.event.ID)
	s.Require().NoError(err)
	s.Equal(2, one.Registered)
	s.Len(one.Passes, 2)

	_, err = s.svc.GetEvent(s.ctx, "missing")
	s.requireKind(err, KindNotFound)
}

func (s *WorkflowSuite) TestListRegistrations() {
	first := s.submit("25BCE10001")
	second := s.submit("25BCE10002")

	regs, err := s.svc.ListRegistrations(s.ctx, s.event.ID)
	s.Require().NoError(err)
	s.Require().Len(regs, 2)
	s.Equal(first.ID, regs[0].ID)
	s.Equal(second.ID, regs[1].ID)
	s.Equal(model.PaymentPending, regs[0].PaymentStatus)

	_, err = s.svc.ListRegistrations(s.ctx, "missing")
	s.requireKind(err, KindNotFound)
}

func (s *WorkflowSuite) TestCreateEvent() {
	e, err := s.svc.CreateEvent(s.ctx, CreateEventInput{
		Title: "  Design Sprint ",
		Date:  time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC),
		Passes: []PassInput{
			{Type: "Couple", Price: 300},
			{Type: "solo", Price: 180},
		},
	})
	s.Require().NoError(err)
	s.Equal("Design Sprint", e.Title)
	s.Equal(model.PassSolo, e.Passes[0].Type)

	_, err = s.svc.CreateEvent(s.ctx, CreateEventInput{Title: "x", Passes: []PassInput{{Type: "solo"}, {Type: "solo"}}})
	s.requireKind(err, KindValidation)

	_, err = s.svc.CreateEvent(s.ctx, CreateEventInput{Title: "x", Passes: []PassInput{{Type: "group"}}})
	s.requireKind(err, KindValidation)
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", &Error{Kind: KindDuplicate, Message: MsgDuplicate})
	assert.Equal(t, KindDuplicate, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, "duplicate", KindDuplicate.String())
}
