// Package wizard walks a registrant through the multi-step form. State is a
// plain value owned by the client; every transition returns a new one.
package wizard

import (
	"errors"

	"eventreg/internal/model"
	"eventreg/internal/registration"
	"eventreg/internal/validation"
)

type Step string

const (
	StepPass           Step = "pass"
	StepMember1Info    Step = "member1Info"
	StepMember1Details Step = "member1Details"
	StepMember2Info    Step = "member2Info"
	StepMember2Details Step = "member2Details"
	StepSlot           Step = "slotSelection"
	StepPayment        Step = "payment"
)

const FieldStep = "step"

var ErrIncomplete = errors.New("wizard has not reached the payment step")

type State struct {
	Step      Step           `json:"step"`
	PassType  model.PassType `json:"pass_type,omitempty"`
	PassPrice int            `json:"pass_price,omitempty"`
	Member1   model.Member   `json:"member1"`
	Member2   *model.Member  `json:"member2,omitempty"`
	Slot      model.Slot     `json:"slot,omitempty"`
}

// Input carries the fields the current step collects. Fields that belong to
// other steps are ignored.
type Input struct {
	PassType string       `json:"pass_type"`
	Member   model.Member `json:"member"`
	Slot     string       `json:"slot"`
}

type Wizard struct {
	engine *validation.Engine
}

func New(engine *validation.Engine) *Wizard {
	return &Wizard{engine: engine}
}

// Steps lists the steps for a pass type. Member 2 steps exist only for couple passes.
func Steps(passType model.PassType) []Step {
	if passType.Members() == 2 {
		return []Step{StepPass, StepMember1Info, StepMember1Details, StepMember2Info, StepMember2Details, StepSlot, StepPayment}
	}
	return []Step{StepPass, StepMember1Info, StepMember1Details, StepSlot, StepPayment}
}

func Reset() State {
	return State{Step: StepPass}
}

// Back moves one step back and keeps everything entered so far.
func Back(st State) State {
	steps := Steps(st.PassType)
	for i, s := range steps {
		if s == st.Step && i > 0 {
			st.Step = steps[i-1]
			return st
		}
	}
	if !hasStep(st) {
		st.Step = StepPass
	}
	return st
}

func hasStep(st State) bool {
	for _, s := range Steps(st.PassType) {
		if s == st.Step {
			return true
		}
	}
	return false
}

func advance(st State) State {
	steps := Steps(st.PassType)
	for i, s := range steps {
		if s == st.Step && i+1 < len(steps) {
			st.Step = steps[i+1]
			break
		}
	}
	return st
}

// Next validates the current step's input. On success the input is merged
// into the state and the state moves forward; otherwise st is returned as is.
func (w *Wizard) Next(event *model.Event, st State, in Input) (State, validation.FieldErrors) {
	if st.Step == "" {
		st.Step = StepPass
	}
	if !hasStep(st) {
		return st, validation.FieldErrors{FieldStep: "This step is not part of the selected pass, start again"}
	}

	switch st.Step {
	case StepPass:
		pass, msg := w.engine.ValidatePass(event, in.PassType)
		if msg != "" {
			return st, validation.FieldErrors{validation.FieldPassType: msg}
		}
		st.PassType, st.PassPrice = pass.Type, pass.Price
		if pass.Type.Members() < 2 {
			st.Member2 = nil
		}

	case StepMember1Info:
		m, errs := w.engine.ValidateNames(withNames(st.Member1, in.Member))
		if len(errs) > 0 {
			return st, errs
		}
		st.Member1 = m

	case StepMember1Details:
		m, errs := w.engine.ValidateCredentials(withCredentials(st.Member1, in.Member))
		if len(errs) > 0 {
			return st, errs
		}
		st.Member1 = m

	case StepMember2Info:
		m, errs := w.engine.ValidateNames(withNames(member2(st), in.Member))
		if len(errs) > 0 {
			return st, prefixed(errs)
		}
		st.Member2 = &m

	case StepMember2Details:
		m, errs := w.engine.ValidateCredentials(withCredentials(member2(st), in.Member))
		if len(errs) > 0 {
			return st, prefixed(errs)
		}
		if m.RegNo == st.Member1.RegNo {
			return st, validation.FieldErrors{validation.Member2Prefix + validation.FieldRegNo: "Member 2 must be a different person"}
		}
		st.Member2 = &m

	case StepSlot:
		slot, msg := w.engine.ValidateSlot(in.Slot)
		if msg != "" {
			return st, validation.FieldErrors{validation.FieldSlot: msg}
		}
		st.Slot = slot

	default:
		return st, validation.FieldErrors{FieldStep: "Nothing left to fill in, submit the registration"}
	}

	return advance(st), nil
}

// Submission turns a completed state into workflow input. The workflow
// validates everything again.
func Submission(eventID string, st State) (registration.SubmitInput, error) {
	if st.Step != StepPayment {
		return registration.SubmitInput{}, ErrIncomplete
	}
	in := registration.SubmitInput{
		EventID:  eventID,
		PassType: string(st.PassType),
		Member1:  st.Member1,
		Slot:     string(st.Slot),
	}
	if st.PassType.Members() == 2 && st.Member2 != nil {
		m2 := *st.Member2
		in.Member2 = &m2
	}
	return in, nil
}

func member2(st State) model.Member {
	if st.Member2 == nil {
		return model.Member{}
	}
	return *st.Member2
}

func withNames(m, in model.Member) model.Member {
	m.FirstName, m.MiddleName, m.LastName = in.FirstName, in.MiddleName, in.LastName
	return m
}

func withCredentials(m, in model.Member) model.Member {
	m.RegNo, m.Email, m.Mobile = in.RegNo, in.Email, in.Mobile
	return m
}

func prefixed(errs validation.FieldErrors) validation.FieldErrors {
	out := make(validation.FieldErrors, len(errs))
	for k, v := range errs {
		out[validation.Member2Prefix+k] = v
	}
	return out
}
