package model

import "time"

type PassType string

const (
	PassSolo   PassType = "solo"
	PassCouple PassType = "couple"
)

// Members is the number of participants a registration with this pass owns.
func (p PassType) Members() int {
	switch p {
	case PassSolo:
		return 1
	case PassCouple:
		return 2
	default:
		return 0
	}
}

func (p PassType) Valid() bool {
	return p.Members() > 0
}

type Slot string

const (
	SlotMorning   Slot = "MORNING"
	SlotAfternoon Slot = "AFTERNOON"
)

var Slots = []Slot{SlotMorning, SlotAfternoon}

func (s Slot) Valid() bool {
	return s == SlotMorning || s == SlotAfternoon
}

// Window is the human readable session time of the slot.
func (s Slot) Window() string {
	switch s {
	case SlotMorning:
		return "10:00 AM - 1:00 PM"
	case SlotAfternoon:
		return "1:30 PM - 4:30 PM"
	default:
		return ""
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentVerifying PaymentStatus = "VERIFYING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentRejected  PaymentStatus = "REJECTED"
)

// CanTransitionTo reports whether the payment lifecycle allows moving from s to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentVerifying
	case PaymentVerifying:
		return next == PaymentConfirmed || next == PaymentRejected
	default:
		return false
	}
}

type Event struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	Date        time.Time `db:"date" json:"date"`
	Venue       string    `db:"venue" json:"venue,omitempty"`
	Capacity    int       `db:"capacity" json:"capacity"`
	Price       int       `db:"price" json:"price"`
	Passes      []Pass    `db:"-" json:"passes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Pass returns the event's pass of the given type.
func (e *Event) Pass(t PassType) (Pass, bool) {
	for _, p := range e.Passes {
		if p.Type == t {
			return p, true
		}
	}
	return Pass{}, false
}

type Pass struct {
	ID       string   `db:"id" json:"id"`
	EventID  string   `db:"event_id" json:"event_id"`
	Type     PassType `db:"type" json:"type"`
	Price    int      `db:"price" json:"price"`
	Benefits []string `db:"benefits" json:"benefits"`
}

// Member holds the identity fields of one team member.
type Member struct {
	FirstName  string `db:"first_name" json:"first_name"`
	MiddleName string `db:"middle_name" json:"middle_name,omitempty"`
	LastName   string `db:"last_name" json:"last_name"`
	RegNo      string `db:"reg_no" json:"reg_no"`
	Email      string `db:"email" json:"email"`
	Mobile     string `db:"mobile" json:"mobile"`
}

type Registration struct {
	ID      string `db:"id" json:"id"`
	EventID string `db:"event_id" json:"event_id"`
	Member
	PassType      PassType      `db:"pass_type" json:"pass_type"`
	Slot          Slot          `db:"slot" json:"slot"`
	TotalPrice    int           `db:"total_price" json:"total_price"`
	TransactionID string        `db:"transaction_id" json:"transaction_id,omitempty"`
	ScreenshotURL string        `db:"screenshot_url" json:"screenshot_url,omitempty"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	Participants  []Participant `db:"-" json:"participants,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

type Participant struct {
	ID             string `db:"id" json:"id"`
	RegistrationID string `db:"registration_id" json:"registration_id"`
	MemberNumber   int    `db:"member_number" json:"member_number"`
	Member
}

// PaymentUpdate enumerates every field the payment step may change.
// A nil or empty ScreenshotURL keeps the stored value.
type PaymentUpdate struct {
	TransactionID string
	ScreenshotURL *string
	Status        PaymentStatus
}

type NotificationKind string

const (
	NotifyRegistrationPending NotificationKind = "registration.pending"
	NotifyPaymentVerifying    NotificationKind = "payment.verifying"
)

// Notification is an intent to tell a registrant about a state change.
type Notification struct {
	Kind           NotificationKind `json:"kind"`
	RegistrationID string           `json:"registration_id"`
	EventID        string           `json:"event_id"`
	EventTitle     string           `json:"event_title"`
	FirstName      string           `json:"first_name"`
	Email          string           `json:"email"`
	Status         PaymentStatus    `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}
