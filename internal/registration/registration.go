// Package registration runs the submission and payment-confirmation
// workflow on top of the repository, the validation engine and the
// screenshot store.
package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventreg/internal/metrics"
	"eventreg/internal/model"
	"eventreg/internal/repo"
	"eventreg/internal/storage"
	"eventreg/internal/validation"
)

type Uploader interface {
	Upload(ctx context.Context, f storage.File, firstName, regNo string, fallbacks ...string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type Service struct {
	repo     repo.Repository
	uploader Uploader
	engine   *validation.Engine
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zerolog.Logger
	now      func() time.Time
}

// New builds the workflow. notifier and m may be nil.
func New(r repo.Repository, up Uploader, engine *validation.Engine, notifier Notifier, m *metrics.Metrics, log *zerolog.Logger) *Service {
	return &Service{
		repo:     r,
		uploader: up,
		engine:   engine,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

type SubmitInput struct {
	EventID  string
	PassType string
	Member1  model.Member
	Member2  *model.Member
	Slot     string
}

// Submit validates the input and creates a PENDING registration with its
// participants. A second submission for the same regNo and event fails
// with KindDuplicate, also when both race.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*model.Registration, error) {
	event, err := s.loadEvent(ctx, in.EventID)
	if err != nil {
		s.metrics.Registration("error")
		return nil, err
	}

	res, fieldErrs := s.engine.ValidateRegistration(event, validation.Input{
		PassType: in.PassType,
		Member1:  in.Member1,
		Member2:  in.Member2,
		Slot:     in.Slot,
	})
	if fieldErrs != nil {
		s.metrics.Registration("invalid")
		return nil, validationError(fieldErrs)
	}

	build := func() (*model.Registration, []model.Participant, error) {
		reg := &model.Registration{
			ID:            uuid.NewString(),
			EventID:       event.ID,
			Member:        res.Member1,
			PassType:      res.Pass.Type,
			Slot:          res.Slot,
			TotalPrice:    res.Pass.Price,
			PaymentStatus: model.PaymentPending,
		}
		members := res.Members()
		participants := make([]model.Participant, 0, len(members))
		for i, m := range members {
			participants = append(participants, model.Participant{
				ID:           uuid.NewString(),
				MemberNumber: i + 1,
				Member:       m,
			})
		}
		return reg, participants, nil
	}

	reg, err := s.repo.CheckAndCreate(ctx, res.Member1.RegNo, event.ID, build)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrDuplicateRegistration):
		s.metrics.Registration("duplicate")
		s.log.Info().Str("event_id", event.ID).Str("reg_no", res.Member1.RegNo).Msg("duplicate registration rejected")
		return nil, &Error{Kind: KindDuplicate, Message: MsgDuplicate, Err: err}
	case errors.Is(err, repo.ErrEventNotFound):
		s.metrics.Registration("error")
		return nil, &Error{Kind: KindNotFound, Message: MsgEventNotFound, Err: err}
	default:
		s.metrics.Registration("error")
		return nil, s.backendError("create registration", err)
	}

	s.metrics.Registration("created")
	s.log.Info().
		Str("registration_id", reg.ID).
		Str("event_id", event.ID).
		Str("pass", string(reg.PassType)).
		Int("participants", len(reg.Participants)).
		Msg("registration created")

	s.notify(ctx, model.NotifyRegistrationPending, event, reg)
	return reg, nil
}

type ConfirmInput struct {
	RegistrationID string
	TransactionID  string
	Screenshot     *storage.File
}

type ConfirmResult struct {
	Registration *model.Registration
	Message      string
}

// ConfirmPayment stores the proof and moves the registration from PENDING
// to VERIFYING. Nothing is looked up or uploaded without a transaction id.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	txnID := strings.TrimSpace(in.TransactionID)
	if txnID == "" {
		s.metrics.Payment("invalid")
		return nil, fieldError(FieldTransactionID, MsgTransactionRequired)
	}

	reg, err := s.repo.GetRegistrationByID(ctx, in.RegistrationID)
	if errors.Is(err, repo.ErrRegistrationNotFound) {
		s.metrics.Payment("not_found")
		return nil, &Error{Kind: KindNotFound, Message: MsgRegistrationNotFound, Err: err}
	}
	if err != nil {
		s.metrics.Payment("error")
		return nil, s.backendError("load registration", err)
	}
	if reg.PaymentStatus != model.PaymentPending {
		s.metrics.Payment("invalid_state")
		return nil, &Error{Kind: KindInvalidState, Message: MsgAlreadySubmitted}
	}

	var screenshotURL *string
	if in.Screenshot != nil {
		url, err := s.upload(ctx, reg, *in.Screenshot)
		if err != nil {
			s.metrics.Payment("upload_failed")
			return nil, err
		}
		screenshotURL = &url
	}

	updated, err := s.repo.UpdatePaymentFields(ctx, reg.ID, model.PaymentUpdate{
		TransactionID: txnID,
		ScreenshotURL: screenshotURL,
		Status:        model.PaymentVerifying,
	})
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrInvalidTransition):
		s.metrics.Payment("invalid_state")
		return nil, &Error{Kind: KindInvalidState, Message: MsgAlreadySubmitted, Err: err}
	case errors.Is(err, repo.ErrRegistrationNotFound):
		s.metrics.Payment("not_found")
		return nil, &Error{Kind: KindNotFound, Message: MsgRegistrationNotFound, Err: err}
	default:
		s.metrics.Payment("error")
		return nil, s.backendError("update payment", err)
	}

	s.metrics.Payment("verifying")
	s.log.Info().Str("registration_id", updated.ID).Msg("payment submitted for verification")

	var event *model.Event
	if e, err := s.repo.GetEventByID(ctx, updated.EventID); err == nil {
		event = e
	}
	s.notify(ctx, model.NotifyPaymentVerifying, event, updated)

	return &ConfirmResult{Registration: updated, Message: MsgPaymentSubmitted}, nil
}

// upload stores the proof as {firstName}_{regNo}. A taken name falls back to
// a stem carrying the registration id; if that one is taken too it holds an
// earlier upload of this registration and its URL is reused.
func (s *Service) upload(ctx context.Context, reg *model.Registration, f storage.File) (string, error) {
	fallback := reg.FirstName + "_" + reg.RegNo + "_" + shortID(reg.ID)

	start := time.Now()
	url, err := s.uploader.Upload(ctx, f, reg.FirstName, reg.RegNo, fallback)
	if err == nil {
		s.metrics.Upload("ok", time.Since(start))
		return url, nil
	}

	var se *storage.Error
	if !errors.As(err, &se) {
		s.metrics.Upload("error", time.Since(start))
		return "", s.backendError("upload screenshot", err)
	}
	s.metrics.Upload(string(se.Reason), time.Since(start))

	switch se.Reason {
	case storage.ReasonExists:
		s.log.Warn().Str("registration_id", reg.ID).Str("object", se.Object).Msg("reusing earlier screenshot upload")
		return se.URL, nil
	case storage.ReasonUnsupportedType:
		return "", &Error{Kind: KindValidation, Message: MsgFileType, Fields: validation.FieldErrors{FieldScreenshot: MsgFileType}, Err: err}
	case storage.ReasonTooLarge:
		return "", &Error{Kind: KindValidation, Message: MsgFileSize, Fields: validation.FieldErrors{FieldScreenshot: MsgFileSize}, Err: err}
	case storage.ReasonUnavailable:
		s.log.Error().Err(err).Str("registration_id", reg.ID).Msg("screenshot store unavailable")
		return "", &Error{Kind: KindStorage, Message: MsgStorageRetry, Err: err}
	default:
		s.log.Error().Err(err).Str("registration_id", reg.ID).Msg("screenshot upload rejected")
		return "", &Error{Kind: KindUnknown, Message: MsgUnknown, Err: err}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Service) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := s.repo.GetRegistrationByID(ctx, id)
	if errors.Is(err, repo.ErrRegistrationNotFound) {
		return nil, &Error{Kind: KindNotFound, Message: MsgRegistrationNotFound, Err: err}
	}
	if err != nil {
		return nil, s.backendError("get registration", err)
	}
	return reg, nil
}

// ListRegistrations is the staff roster of an event: every registration with
// its payment fields, oldest first.
func (s *Service) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	regs, err := s.repo.ListRegistrations(ctx, event.ID)
	if err != nil {
		return nil, s.backendError("list registrations", err)
	}
	return regs, nil
}

// EventSummary is an event with the number of registrations that still hold a spot.
type EventSummary struct {
	model.Event
	Registered int `json:"registered"`
}

func (s *Service) GetEvent(ctx context.Context, id string) (*EventSummary, error) {
	event, err := s.loadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountRegistrations(ctx, event.ID)
	if err != nil {
		return nil, s.backendError("count registrations", err)
	}
	return &EventSummary{Event: *event, Registered: count}, nil
}

func (s *Service) ListEvents(ctx context.Context) ([]EventSummary, error) {
	events, err := s.repo.GetAllEvents(ctx)
	if err != nil {
		return nil, s.backendError("list events", err)
	}
	out := make([]EventSummary, 0, len(events))
	for _, e := range events {
		count, err := s.repo.CountRegistrations(ctx, e.ID)
		if err != nil {
			return nil, s.backendError("count registrations", err)
		}
		out = append(out, EventSummary{Event: e, Registered: count})
	}
	return out, nil
}

type PassInput struct {
	Type     string
	Price    int
	Benefits []string
}

type CreateEventInput struct {
	Title       string
	Description string
	Date        time.Time
	Venue       string
	Capacity    int
	Price       int
	Passes      []PassInput
}

// CreateEvent adds an event to the catalog. Pass types must be known and
// appear at most once.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*model.Event, error) {
	event := &model.Event{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Date:        in.Date,
		Venue:       strings.TrimSpace(in.Venue),
		Capacity:    in.Capacity,
		Price:       in.Price,
	}
	if event.Title == "" {
		return nil, fieldError("title", "Title is required")
	}

	seen := make(map[model.PassType]bool, len(in.Passes))
	for _, p := range in.Passes {
		t := model.PassType(strings.ToLower(strings.TrimSpace(p.Type)))
		if !t.Valid() {
			return nil, fieldError(validation.FieldPassType, "Unknown pass type "+p.Type)
		}
		if seen[t] {
			return nil, fieldError(validation.FieldPassType, "Pass "+string(t)+" is listed twice")
		}
		if p.Price < 0 {
			return nil, fieldError("price", "Price cannot be negative")
		}
		seen[t] = true
		event.Passes = append(event.Passes, model.Pass{Type: t, Price: p.Price, Benefits: p.Benefits})
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return nil, s.backendError("create event", err)
	}
	s.log.Info().Str("event_id", event.ID).Str("title", event.Title).Msg("event created")
	return event, nil
}

func (s *Service) loadEvent(ctx context.Context, id string) (*model.Event, error) {
	event, err := s.repo.GetEventByID(ctx, id)
	if errors.Is(err, repo.ErrEventNotFound) {
		return nil, &Error{Kind: KindNotFound, Message: MsgEventNotFound, Err: err}
	}
	if err != nil {
		return nil, s.backendError("get event", err)
	}
	return event, nil
}

// backendError maps infrastructure failures to a retryable KindStorage and
// everything else to KindUnknown. Both are logged with the cause.
func (s *Service) backendError(op string, err error) *Error {
	if errors.Is(err, repo.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		s.log.Error().Err(err).Str("op", op).Msg("storage unavailable")
		return &Error{Kind: KindStorage, Message: MsgStorageRetry, Err: err}
	}
	s.log.Error().Err(err).Str("op", op).Msg("unexpected failure")
	return &Error{Kind: KindUnknown, Message: MsgUnknown, Err: err}
}

// notify publishes a notification intent. Failures are logged only.
func (s *Service) notify(ctx context.Context, kind model.NotificationKind, event *model.Event, reg *model.Registration) {
	if s.notifier == nil {
		return
	}
	n := model.Notification{
		Kind:           kind,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		FirstName:      reg.FirstName,
		Email:          reg.Email,
		Status:         reg.PaymentStatus,
		CreatedAt:      s.now(),
	}
	if event != nil {
		n.EventTitle = event.Title
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.metrics.Notification(string(kind), "failed")
		s.log.Warn().Err(err).Str("registration_id", reg.ID).Str("kind", string(kind)).Msg("notification not sent")
		return
	}
	s.metrics.Notification(string(kind), "sent")
}
