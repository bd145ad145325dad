// Package validation checks participant identity data against the
// institution's fixed-format rules. Every function here is pure.
package validation

import (
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator"

	"eventreg/internal/model"
	pkgvalidator "eventreg/pkg/validator"
)

const (
	FieldFirstName  = "firstName"
	FieldMiddleName = "middleName"
	FieldLastName   = "lastName"
	FieldRegNo      = "regNo"
	FieldEmail      = "email"
	FieldMobile     = "mobile"
	FieldPassType   = "passType"
	FieldSlot       = "slot"

	Member2Prefix = "member2."
)

var memberFields = []string{FieldFirstName, FieldMiddleName, FieldLastName, FieldRegNo, FieldEmail, FieldMobile}

// Rules are the institution-specific parts of the identity format.
type Rules struct {
	Domain   string
	Years    []string
	Branches []string
}

func DefaultRules() Rules {
	return Rules{
		Domain: "vitbhopal.ac.in",
		Years:  []string{"21", "22", "23", "24", "25"},
		Branches: []string{
			"MEI", "MIM", "MIP", "MIB", "MSI", "BAC", "BAI", "BAS", "BBA", "BCA", "BCE", "BCG",
			"BCY", "BCC", "BCH", "BEC", "BET", "BEY", "BHI", "BME", "BMR", "BOE", "BSA", "BAR",
			"MCS", "MVT", "MDS", "MAL", "MBM", "MCA", "PHD",
		},
	}
}

// FieldErrors maps a field name to the first rule it violated.
type FieldErrors map[string]string

func (fe FieldErrors) add(field, msg string) {
	if msg != "" {
		fe[field] = msg
	}
}

func (fe FieldErrors) merge(prefix string, other FieldErrors) {
	for k, v := range other {
		fe[prefix+k] = v
	}
}

// First returns the first violation in declared field order, member 1 before member 2.
func (fe FieldErrors) First() (string, string) {
	order := append(append([]string{}, memberFields...), FieldPassType, FieldSlot)
	for _, f := range memberFields {
		order = append(order, Member2Prefix+f)
	}
	for _, f := range order {
		if msg, ok := fe[f]; ok {
			return f, msg
		}
	}
	rest := make([]string, 0, len(fe))
	for f := range fe {
		rest = append(rest, f)
	}
	sort.Strings(rest)
	if len(rest) == 0 {
		return "", ""
	}
	return rest[0], fe[rest[0]]
}

type rule struct {
	tag string
	msg string
}

var (
	firstNameRules = []rule{
		{"min=2", "First name must be at least 2 characters"},
		{"max=50", "First name cannot exceed 50 characters"},
		{"alphaspace", "First name can only contain letters"},
	}
	middleNameRules = []rule{
		{"max=50", "Middle name cannot exceed 50 characters"},
		{"alphaspace", "Middle name can only contain letters"},
	}
	lastNameRules = []rule{
		{"min=1", "Last name is required"},
		{"max=50", "Last name cannot exceed 50 characters"},
		{"alphaspace", "Last name can only contain letters"},
	}
	regNoRules = []rule{
		{"len=10", "Registration number must be exactly 10 characters"},
		{"regno", "Invalid format. Expected: 25BCE10001 (Year 21-25 + Valid Branch)"},
	}
	mobileRules = []rule{
		{"mobile", "Must be exactly 10 digits (without +91)"},
	}
)

const (
	msgEmailFormat   = "Invalid email format"
	msgPassRequired  = "Please select a pass"
	msgPassUnknown   = "Selected pass is not available for this event"
	msgSlotRequired  = "Please select a session slot"
	msgMember2Needed = "Member 2 details are required for a couple pass"
	msgSameMember    = "Member 2 must be a different person"
)

type Engine struct {
	v     *validator.Validate
	rules Rules
}

func New(rules Rules) *Engine {
	regNo := regexp.MustCompile(`^(` + strings.Join(rules.Years, "|") + `)(` +
		strings.Join(rules.Branches, "|") + `)\d{5}$`)
	domain := strings.ToLower(rules.Domain)

	v := pkgvalidator.New()
	_ = v.RegisterValidation("regno", func(fl validator.FieldLevel) bool {
		return regNo.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("instdomain", func(fl validator.FieldLevel) bool {
		return strings.HasSuffix(strings.ToLower(fl.Field().String()), "@"+domain)
	})
	return &Engine{v: v, rules: rules}
}

func (e *Engine) firstViolation(value string, rules []rule) string {
	for _, r := range rules {
		if err := e.v.Var(value, r.tag); err != nil {
			return r.msg
		}
	}
	return ""
}

// ExpectedEmail is the only email accepted for the given first name and regNo.
func ExpectedEmail(firstName, regNo, domain string) string {
	name := strings.ToLower(strings.Join(strings.Fields(firstName), ""))
	return name + "." + strings.ToLower(regNo) + "@" + strings.ToLower(domain)
}

func (e *Engine) emailMessage() string {
	return "Email must match format: firstname.regno@" + e.rules.Domain +
		" (e.g., john.25bce10001@" + e.rules.Domain + ")"
}

// ValidateNames checks the name fields of one member.
func (e *Engine) ValidateNames(m model.Member) (model.Member, FieldErrors) {
	m.FirstName = strings.TrimSpace(m.FirstName)
	m.MiddleName = strings.TrimSpace(m.MiddleName)
	m.LastName = strings.TrimSpace(m.LastName)

	errs := FieldErrors{}
	errs.add(FieldFirstName, e.firstViolation(m.FirstName, firstNameRules))
	if m.MiddleName != "" {
		errs.add(FieldMiddleName, e.firstViolation(m.MiddleName, middleNameRules))
	}
	errs.add(FieldLastName, e.firstViolation(m.LastName, lastNameRules))
	return m, errs
}

// ValidateCredentials checks regNo, email and mobile. The email derivation
// check needs a valid first name, so it is skipped when m.FirstName is invalid.
func (e *Engine) ValidateCredentials(m model.Member) (model.Member, FieldErrors) {
	m.RegNo = strings.ToUpper(strings.TrimSpace(m.RegNo))
	m.Email = strings.ToLower(strings.TrimSpace(m.Email))
	m.Mobile = strings.TrimSpace(m.Mobile)

	errs := FieldErrors{}
	errs.add(FieldRegNo, e.firstViolation(m.RegNo, regNoRules))
	errs.add(FieldEmail, e.emailViolation(m, errs[FieldRegNo] == ""))
	errs.add(FieldMobile, e.firstViolation(m.Mobile, mobileRules))
	return m, errs
}

func (e *Engine) emailViolation(m model.Member, regNoOK bool) string {
	if err := e.v.Var(m.Email, "email"); err != nil {
		return msgEmailFormat
	}
	if err := e.v.Var(m.Email, "instdomain"); err != nil {
		return "Must be a @" + e.rules.Domain + " email"
	}
	firstNameOK := e.firstViolation(strings.TrimSpace(m.FirstName), firstNameRules) == ""
	if regNoOK && firstNameOK && m.Email != ExpectedEmail(m.FirstName, m.RegNo, e.rules.Domain) {
		return e.emailMessage()
	}
	return ""
}

// ValidateMember runs the name and credential rules for one member.
func (e *Engine) ValidateMember(m model.Member) (model.Member, FieldErrors) {
	m, errs := e.ValidateNames(m)
	m, credErrs := e.ValidateCredentials(m)
	errs.merge("", credErrs)
	return m, errs
}

// ValidatePass resolves passType against the passes the event offers.
func (e *Engine) ValidatePass(event *model.Event, passType string) (model.Pass, string) {
	passType = strings.ToLower(strings.TrimSpace(passType))
	if passType == "" {
		return model.Pass{}, msgPassRequired
	}
	if event == nil {
		return model.Pass{}, msgPassUnknown
	}
	p, ok := event.Pass(model.PassType(passType))
	if !ok {
		return model.Pass{}, msgPassUnknown
	}
	return p, ""
}

func (e *Engine) ValidateSlot(slot string) (model.Slot, string) {
	s := model.Slot(strings.ToUpper(strings.TrimSpace(slot)))
	if !s.Valid() {
		return "", msgSlotRequired
	}
	return s, ""
}

type Input struct {
	PassType string
	Member1  model.Member
	Member2  *model.Member
	Slot     string
}

// Result is a submission that passed every rule, in normalized form.
type Result struct {
	Pass    model.Pass
	Member1 model.Member
	Member2 *model.Member
	Slot    model.Slot
}

// Members returns the validated members in member-number order.
func (r Result) Members() []model.Member {
	members := []model.Member{r.Member1}
	if r.Member2 != nil {
		members = append(members, *r.Member2)
	}
	return members
}

// ValidateRegistration validates a full submission for event. Member 2 is
// only considered for passes with two members.
func (e *Engine) ValidateRegistration(event *model.Event, in Input) (Result, FieldErrors) {
	var res Result
	m1, errs := e.ValidateMember(in.Member1)
	res.Member1 = m1

	pass, msg := e.ValidatePass(event, in.PassType)
	errs.add(FieldPassType, msg)
	res.Pass = pass

	slot, msg := e.ValidateSlot(in.Slot)
	errs.add(FieldSlot, msg)
	res.Slot = slot

	if pass.Type.Members() == 2 {
		if in.Member2 == nil {
			errs.add(Member2Prefix+FieldFirstName, msgMember2Needed)
		} else {
			m2, m2Errs := e.ValidateMember(*in.Member2)
			errs.merge(Member2Prefix, m2Errs)
			if _, ok := m2Errs[FieldRegNo]; !ok && m2.RegNo == res.Member1.RegNo {
				errs.add(Member2Prefix+FieldRegNo, msgSameMember)
			}
			res.Member2 = &m2
		}
	}

	if len(errs) > 0 {
		return Result{}, errs
	}
	return res, nil
}
