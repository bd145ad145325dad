package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"eventreg/internal/dto"
	"eventreg/internal/model"
	"eventreg/internal/registration"
	"eventreg/internal/repo"
	"eventreg/internal/storage"
	"eventreg/internal/wizard"
	"eventreg/pkg/validator"
)

// maxPaymentForm bounds the multipart body; the screenshot limit itself is
// enforced by the storage adapter.
const maxPaymentForm = 16 << 20

type Service interface {
	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	Wizard(ctx *ginext.Context)
	GetRegistration(ctx *ginext.Context)
	ConfirmPayment(ctx *ginext.Context)
}

type Workflow interface {
	Submit(ctx context.Context, in registration.SubmitInput) (*model.Registration, error)
	ConfirmPayment(ctx context.Context, in registration.ConfirmInput) (*registration.ConfirmResult, error)
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error)
	GetEvent(ctx context.Context, id string) (*registration.EventSummary, error)
	ListEvents(ctx context.Context) ([]registration.EventSummary, error)
	CreateEvent(ctx context.Context, in registration.CreateEventInput) (*model.Event, error)
}

type service struct {
	workflow Workflow
	wizard   *wizard.Wizard
	log      *zerolog.Logger
}

func NewService(workflow Workflow, wz *wizard.Wizard, logger *zerolog.Logger) Service {
	return &service{
		workflow: workflow,
		wizard:   wz,
		log:      logger,
	}
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Error().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	in := registration.CreateEventInput{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Venue:       req.Venue,
		Capacity:    req.Capacity,
		Price:       req.Price,
	}
	for _, p := range req.Passes {
		in.Passes = append(in.Passes, registration.PassInput{Type: p.Type, Price: p.Price, Benefits: p.Benefits})
	}

	event, err := s.workflow.CreateEvent(ctx.Request.Context(), in)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	dto.SuccessCreatedResponse(ctx, dto.NewEventResponse(event, 0))
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	isAdmin := ctx.Query("admin") == "true"

	events, err := s.workflow.ListEvents(ctx.Request.Context())
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		item := dto.NewEventResponse(&events[i].Event, events[i].Registered)
		if isAdmin {
			if !s.attachRoster(ctx, &item) {
				return
			}
		}
		resp = append(resp, item)
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetInfo(ctx *ginext.Context) {
	isAdmin := ctx.Query("admin") == "true"

	event, err := s.workflow.GetEvent(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	resp := dto.NewEventResponse(&event.Event, event.Registered)
	if isAdmin && !s.attachRoster(ctx, &resp) {
		return
	}
	dto.SuccessResponse(ctx, resp)
}

// attachRoster adds the event's registrations for staff. It writes the
// error response itself and reports whether the handler may continue.
func (s *service) attachRoster(ctx *ginext.Context, resp *dto.EventResponse) bool {
	regs, err := s.workflow.ListRegistrations(ctx.Request.Context(), resp.ID)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", resp.ID).Msg("failed to get registrations for admin view")
		s.writeError(ctx, err)
		return false
	}

	resp.Registrations = make([]dto.RegistrationResponse, 0, len(regs))
	for i := range regs {
		resp.Registrations = append(resp.Registrations, dto.NewRegistrationResponse(&regs[i]))
	}
	return true
}

func (s *service) Register(ctx *ginext.Context) {
	var req dto.CreateRegistrationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	in := registration.SubmitInput{
		EventID:  ctx.Param("id"),
		PassType: req.PassType,
		Member1:  req.Member1.Model(),
		Slot:     req.Slot,
	}
	if req.Member2 != nil {
		m2 := req.Member2.Model()
		in.Member2 = &m2
	}

	reg, ok := s.submit(ctx, in)
	if !ok {
		return
	}
	dto.SuccessCreatedResponse(ctx, dto.NewRegistrationResponse(reg))
}

func (s *service) submit(ctx *ginext.Context, in registration.SubmitInput) (*model.Registration, bool) {
	reg, err := s.workflow.Submit(ctx.Request.Context(), in)
	if err != nil {
		s.writeError(ctx, err)
		return nil, false
	}

	s.log.Info().Str("registration_id", reg.ID).Msg("registration created successfully")
	return reg, true
}

func (s *service) Wizard(ctx *ginext.Context) {
	var req dto.WizardRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	eventID := ctx.Param("id")
	event, err := s.workflow.GetEvent(ctx.Request.Context(), eventID)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	st := req.State
	var fieldErrs map[string]string
	switch req.Action {
	case "reset":
		st = wizard.Reset()
	case "back":
		st = wizard.Back(st)
	case "next":
		st, fieldErrs = s.wizard.Next(&event.Event, st, req.Input)
	case "submit":
		in, err := wizard.Submission(eventID, st)
		if err != nil {
			dto.BadResponseError(ctx, dto.FieldIncorrect, "Complete every step before submitting")
			return
		}
		reg, ok := s.submit(ctx, in)
		if !ok {
			return
		}
		created := dto.NewRegistrationResponse(reg)
		dto.SuccessCreatedResponse(ctx, dto.WizardResponse{
			State:        st,
			Steps:        wizard.Steps(st.PassType),
			Registration: &created,
		})
		return
	}

	dto.SuccessResponse(ctx, dto.WizardResponse{
		State:  st,
		Steps:  wizard.Steps(st.PassType),
		Errors: fieldErrs,
	})
}

func (s *service) GetRegistration(ctx *ginext.Context) {
	reg, err := s.workflow.GetRegistration(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, dto.NewRegistrationResponse(reg))
}

func (s *service) ConfirmPayment(ctx *ginext.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxPaymentForm)

	in := registration.ConfirmInput{
		RegistrationID: ctx.Param("id"),
		TransactionID:  ctx.PostForm("transaction_id"),
	}

	fh, err := ctx.FormFile("screenshot")
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to open uploaded screenshot")
			dto.FieldBadFormatError(ctx, "screenshot")
			return
		}
		defer func() { _ = f.Close() }()
		in.Screenshot = &storage.File{Name: fh.Filename, Size: fh.Size, Content: f}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case errors.As(err, &tooLarge):
		dto.ValidationError(ctx, registration.MsgFileSize, map[string]string{registration.FieldScreenshot: registration.MsgFileSize})
		return
	default:
		s.log.Warn().Err(err).Msg("failed to parse payment form")
		dto.FieldBadFormatError(ctx, "screenshot")
		return
	}

	res, err := s.workflow.ConfirmPayment(ctx.Request.Context(), in)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	dto.SuccessResponse(ctx, dto.ConfirmPaymentResponse{
		Message:      res.Message,
		Registration: dto.NewRegistrationResponse(res.Registration),
	})
}

func (s *service) writeError(ctx *ginext.Context, err error) {
	var re *registration.Error
	if !errors.As(err, &re) {
		s.log.Error().Err(err).Str("path", ctx.FullPath()).Msg("unclassified error")
		dto.InternalServerError(ctx)
		return
	}

	switch re.Kind {
	case registration.KindValidation:
		dto.ValidationError(ctx, re.Message, re.Fields)
	case registration.KindDuplicate:
		dto.RegistrationDuplicateError(ctx, re.Message)
	case registration.KindNotFound:
		if errors.Is(err, repo.ErrRegistrationNotFound) {
			dto.RegistrationNotFoundError(ctx)
		} else {
			dto.EventNotFoundError(ctx)
		}
	case registration.KindInvalidState:
		dto.InvalidStateError(ctx, re.Message)
	case registration.KindStorage:
		dto.StorageUnavailableError(ctx, re.Message)
	default:
		s.log.Error().Err(err).Str("path", ctx.FullPath()).Msg("request failed")
		dto.InternalServerError(ctx)
	}
}
