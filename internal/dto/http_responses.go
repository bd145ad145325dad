package dto

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"

	"eventreg/internal/model"
	"eventreg/internal/wizard"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ValidationFailed   = "VALIDATION_FAILED"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	StorageUnavailable = "STORAGE_UNAVAILABLE"
	InvalidState       = "INVALID_STATE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
)

type MemberRequest struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
	RegNo      string `json:"reg_no"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
}

func (m MemberRequest) Model() model.Member {
	return model.Member{
		FirstName:  m.FirstName,
		MiddleName: m.MiddleName,
		LastName:   m.LastName,
		RegNo:      m.RegNo,
		Email:      m.Email,
		Mobile:     m.Mobile,
	}
}

type CreateRegistrationRequest struct {
	PassType string         `json:"pass_type"`
	Member1  MemberRequest  `json:"member1"`
	Member2  *MemberRequest `json:"member2,omitempty"`
	Slot     string         `json:"slot"`
}

type RegistrationResponse struct {
	ID            string                `json:"id"`
	EventID       string                `json:"event_id"`
	PassType      model.PassType        `json:"pass_type"`
	Slot          model.Slot            `json:"slot"`
	SlotWindow    string                `json:"slot_window"`
	TotalPrice    int                   `json:"total_price"`
	PaymentStatus model.PaymentStatus   `json:"payment_status"`
	TransactionID string                `json:"transaction_id,omitempty"`
	ScreenshotURL string                `json:"screenshot_url,omitempty"`
	Participants  []ParticipantResponse `json:"participants"`
	PaymentPath   string                `json:"payment_path,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

type ParticipantResponse struct {
	MemberNumber int    `json:"member_number"`
	FirstName    string `json:"first_name"`
	MiddleName   string `json:"middle_name,omitempty"`
	LastName     string `json:"last_name"`
	RegNo        string `json:"reg_no"`
	Email        string `json:"email"`
	Mobile       string `json:"mobile"`
}

func NewRegistrationResponse(r *model.Registration) RegistrationResponse {
	resp := RegistrationResponse{
		ID:            r.ID,
		EventID:       r.EventID,
		PassType:      r.PassType,
		Slot:          r.Slot,
		SlotWindow:    r.Slot.Window(),
		TotalPrice:    r.TotalPrice,
		PaymentStatus: r.PaymentStatus,
		TransactionID: r.TransactionID,
		ScreenshotURL: r.ScreenshotURL,
		Participants:  make([]ParticipantResponse, 0, len(r.Participants)),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.PaymentStatus == model.PaymentPending {
		resp.PaymentPath = "/events/payment/" + r.ID
	}
	for _, p := range r.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			MemberNumber: p.MemberNumber,
			FirstName:    p.FirstName,
			MiddleName:   p.MiddleName,
			LastName:     p.LastName,
			RegNo:        p.RegNo,
			Email:        p.Email,
			Mobile:       p.Mobile,
		})
	}
	return resp
}

type ConfirmPaymentResponse struct {
	Message      string               `json:"message"`
	Registration RegistrationResponse `json:"registration"`
}

type PassRequest struct {
	Type     string   `json:"type" validate:"required,oneof=solo couple"`
	Price    int      `json:"price" validate:"gte=0"`
	Benefits []string `json:"benefits"`
}

type CreateEventRequest struct {
	Title       string        `json:"title" validate:"required,max=200"`
	Description string        `json:"description" validate:"max=2000"`
	Date        time.Time     `json:"date" validate:"required,future"`
	Venue       string        `json:"venue" validate:"max=200"`
	Capacity    int           `json:"capacity" validate:"gte=0"`
	Price       int           `json:"price" validate:"gte=0"`
	Passes      []PassRequest `json:"passes" validate:"required,min=1,dive"`
}

type PassResponse struct {
	Type     model.PassType `json:"type"`
	Price    int            `json:"price"`
	Benefits []string       `json:"benefits"`
}

type EventResponse struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Date           time.Time      `json:"date"`
	Venue          string         `json:"venue"`
	Capacity       int            `json:"capacity"`
	Price          int            `json:"price"`
	Registered     int            `json:"registered"`
	AvailableSeats *int           `json:"available_seats,omitempty"`
	Passes         []PassResponse `json:"passes"`
	Slots          []SlotResponse `json:"slots"`
	CreatedAt      time.Time      `json:"created_at"`

	Registrations []RegistrationResponse `json:"registrations,omitempty"`
}

type SlotResponse struct {
	Slot   model.Slot `json:"slot"`
	Window string     `json:"window"`
}

func NewEventResponse(e *model.Event, registered int) EventResponse {
	resp := EventResponse{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Date:        e.Date,
		Venue:       e.Venue,
		Capacity:    e.Capacity,
		Price:       e.Price,
		Registered:  registered,
		Passes:      make([]PassResponse, 0, len(e.Passes)),
		Slots:       make([]SlotResponse, 0, len(model.Slots)),
		CreatedAt:   e.CreatedAt,
	}
	if e.Capacity > 0 {
		left := max(e.Capacity-registered, 0)
		resp.AvailableSeats = &left
	}
	for _, p := range e.Passes {
		benefits := p.Benefits
		if benefits == nil {
			benefits = []string{}
		}
		resp.Passes = append(resp.Passes, PassResponse{Type: p.Type, Price: p.Price, Benefits: benefits})
	}
	for _, s := range model.Slots {
		resp.Slots = append(resp.Slots, SlotResponse{Slot: s, Window: s.Window()})
	}
	return resp
}

type WizardRequest struct {
	Action string       `json:"action" validate:"required,oneof=next back reset submit"`
	State  wizard.State `json:"state"`
	Input  wizard.Input `json:"input"`
}

type WizardResponse struct {
	State        wizard.State          `json:"state"`
	Steps        []wizard.Step         `json:"steps"`
	Errors       map[string]string     `json:"errors,omitempty"`
	Registration *RegistrationResponse `json:"registration,omitempty"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code   string            `json:"code"`
	Desc   string            `json:"desc"`
	Fields map[string]string `json:"fields,omitempty"`
}

func ErrorResponse(c *ginext.Context, status int, code, desc string, fields map[string]string) {
	c.JSON(status, Response{
		Status: "error",
		Error: &Error{
			Code:   code,
			Desc:   desc,
			Fields: fields,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc, nil)
}

func ValidationError(c *ginext.Context, desc string, fields map[string]string) {
	ErrorResponse(c, http.StatusBadRequest, ValidationFailed, desc, fields)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError, nil)
}

func StorageUnavailableError(c *ginext.Context, desc string) {
	ErrorResponse(c, http.StatusServiceUnavailable, StorageUnavailable, desc, nil)
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func EventNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, EventNotFound, "Event not found", nil)
}

func RegistrationNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, RegistrationNotFound, "Registration not found", nil)
}

func RegistrationDuplicateError(c *ginext.Context, desc string) {
	ErrorResponse(c, http.StatusConflict, RegistrationDuplicate, desc, nil)
}

func InvalidStateError(c *ginext.Context, desc string) {
	ErrorResponse(c, http.StatusConflict, InvalidState, desc, nil)
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}
