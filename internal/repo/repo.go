package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"eventreg/internal/model"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrUnavailable           = errors.New("storage unavailable")
)

// BuildFunc produces the registration and its participants once the
// identity is known to be free. It runs inside the creating transaction.
type BuildFunc func() (*model.Registration, []model.Participant, error)

type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEventByID(ctx context.Context, id string) (*model.Event, error)
	GetAllEvents(ctx context.Context) ([]model.Event, error)
	CountRegistrations(ctx context.Context, eventID string) (int, error)
	FindByIdentity(ctx context.Context, regNo, eventID string) (*model.Registration, error)
	CreateRegistrationWithParticipants(ctx context.Context, reg *model.Registration, participants []model.Participant) error
	CheckAndCreate(ctx context.Context, regNo, eventID string, build BuildFunc) (*model.Registration, error)
	GetRegistrationByID(ctx context.Context, id string) (*model.Registration, error)
	ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error)
	UpdatePaymentFields(ctx context.Context, id string, upd model.PaymentUpdate) (*model.Registration, error)
	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to start transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (id, title, description, date, venue, capacity, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, e.ID, e.Title, e.Description, e.Date, e.Venue, e.Capacity, e.Price).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return classify("failed to insert event", err)
	}

	sort.SliceStable(e.Passes, func(i, j int) bool { return e.Passes[i].Price < e.Passes[j].Price })
	for i := range e.Passes {
		p := &e.Passes[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.EventID = e.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO passes (id, event_id, type, price, benefits)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.EventID, string(p.Type), p.Price, pq.Array(p.Benefits)); err != nil {
			_ = tx.Rollback()
			return classify("failed to insert pass", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

const eventColumns = `id, title, description, date, venue, capacity, price, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Date, &e.Venue,
		&e.Capacity, &e.Price, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

func (r *repository) GetEventByID(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, classify("failed to get event", err)
	}

	passes, err := r.loadPasses(ctx, []string{e.ID})
	if err != nil {
		return nil, err
	}
	e.Passes = passes[e.ID]
	return &e, nil
}

func (r *repository) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date ASC`)
	if err != nil {
		return nil, classify("failed to get events", err)
	}
	defer rows.Close()

	var events []model.Event
	var ids []string
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, classify("failed to scan event", err)
		}
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate events", err)
	}

	passes, err := r.loadPasses(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Passes = passes[events[i].ID]
	}
	return events, nil
}

// loadPasses returns the passes of the given events keyed by event id, cheapest first.
func (r *repository) loadPasses(ctx context.Context, eventIDs []string) (map[string][]model.Pass, error) {
	out := make(map[string][]model.Pass, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, type, price, benefits
		FROM passes
		WHERE event_id = ANY($1)
		ORDER BY price ASC
	`, pq.Array(eventIDs))
	if err != nil {
		return nil, classify("failed to get passes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Pass
		var passType string
		if err := rows.Scan(&p.ID, &p.EventID, &passType, &p.Price, pq.Array(&p.Benefits)); err != nil {
			return nil, classify("failed to scan pass", err)
		}
		p.Type = model.PassType(passType)
		out[p.EventID] = append(out[p.EventID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate passes", err)
	}
	return out, nil
}

func (r *repository) CountRegistrations(ctx context.Context, eventID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND payment_status != 'REJECTED'
	`, eventID).Scan(&count); err != nil {
		return 0, classify("failed to count registrations", err)
	}
	return count, nil
}

const registrationColumns = `
	id, event_id, first_name, middle_name, last_name, reg_no, email, mobile,
	pass_type, slot, total_price, transaction_id, screenshot_url, payment_status,
	created_at, updated_at
`

func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var (
		reg                                   model.Registration
		middleName, transactionID, screenshot sql.NullString
		passType, slot, status                string
	)
	if err := row.Scan(
		&reg.ID, &reg.EventID, &reg.FirstName, &middleName, &reg.LastName, &reg.RegNo, &reg.Email, &reg.Mobile,
		&passType, &slot, &reg.TotalPrice, &transactionID, &screenshot, &status,
		&reg.CreatedAt, &reg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	reg.MiddleName = middleName.String
	reg.TransactionID = transactionID.String
	reg.ScreenshotURL = screenshot.String
	reg.PassType = model.PassType(passType)
	reg.Slot = model.Slot(slot)
	reg.PaymentStatus = model.PaymentStatus(status)
	return &reg, nil
}

// Registrations are always read from the master so the payment step sees its own writes.
func (r *repository) GetRegistrationByID(ctx context.Context, id string) (*model.Registration, error) {
	return getRegistration(ctx, r.db.Master, id)
}

func getRegistration(ctx context.Context, q querier, id string) (*model.Registration, error) {
	reg, err := scanRegistration(q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, classify("failed to get registration", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, registration_id, member_number, first_name, middle_name, last_name, reg_no, email, mobile
		FROM participants
		WHERE registration_id = $1
		ORDER BY member_number ASC
	`, id)
	if err != nil {
		return nil, classify("failed to get participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Participant
		var middleName sql.NullString
		if err := rows.Scan(
			&p.ID, &p.RegistrationID, &p.MemberNumber, &p.FirstName, &middleName,
			&p.LastName, &p.RegNo, &p.Email, &p.Mobile,
		); err != nil {
			return nil, classify("failed to scan participant", err)
		}
		p.MiddleName = middleName.String
		reg.Participants = append(reg.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate participants", err)
	}
	return reg, nil
}

// ListRegistrations returns every registration of the event, oldest first,
// with participants. Reads go to the master like the other registration reads.
func (r *repository) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Master.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1
		ORDER BY created_at ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, classify("failed to get registrations", err)
	}
	defer rows.Close()

	var regs []model.Registration
	index := make(map[string]int)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, classify("failed to scan registration", err)
		}
		index[reg.ID] = len(regs)
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate registrations", err)
	}
	if len(regs) == 0 {
		return regs, nil
	}

	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.ID)
	}
	prows, err := r.db.Master.QueryContext(ctx, `
		SELECT id, registration_id, member_number, first_name, middle_name, last_name, reg_no, email, mobile
		FROM participants
		WHERE registration_id = ANY($1)
		ORDER BY member_number ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, classify("failed to get participants", err)
	}
	defer prows.Close()

	for prows.Next() {
		var p model.Participant
		var middleName sql.NullString
		if err := prows.Scan(
			&p.ID, &p.RegistrationID, &p.MemberNumber, &p.FirstName, &middleName,
			&p.LastName, &p.RegNo, &p.Email, &p.Mobile,
		); err != nil {
			return nil, classify("failed to scan participant", err)
		}
		p.MiddleName = middleName.String
		i := index[p.RegistrationID]
		regs[i].Participants = append(regs[i].Participants, p)
	}
	if err := prows.Err(); err != nil {
		return nil, classify("failed to iterate participants", err)
	}
	return regs, nil
}

func (r *repository) FindByIdentity(ctx context.Context, regNo, eventID string) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.Master.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE reg_no = $1 AND event_id = $2`,
		regNo, eventID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, classify("failed to find registration", err)
	}
	return reg, nil
}

func (r *repository) CreateRegistrationWithParticipants(ctx context.Context, reg *model.Registration, participants []model.Participant) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to start transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := insertRegistration(ctx, tx, reg, participants); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

// CheckAndCreate locks the event row, so submissions for one event are
// serialized; the (reg_no, event_id) constraint backs the lookup.
func (r *repository) CheckAndCreate(ctx context.Context, regNo, eventID string, build BuildFunc) (*model.Registration, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("failed to start transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, ErrEventNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, classify("failed to lock event", err)
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM registrations
		WHERE reg_no = $1 AND event_id = $2
	`, regNo, eventID).Scan(&existing)
	switch {
	case err == nil:
		_ = tx.Rollback()
		return nil, ErrDuplicateRegistration
	case !errors.Is(err, sql.ErrNoRows):
		_ = tx.Rollback()
		return nil, classify("failed to check duplicate registration", err)
	}

	reg, participants, err := build()
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if reg.RegNo != regNo || reg.EventID != eventID {
		_ = tx.Rollback()
		return nil, fmt.Errorf("built registration does not match identity %s/%s", regNo, eventID)
	}

	if err := insertRegistration(ctx, tx, reg, participants); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRegistration
		}
		return nil, classify("failed to commit transaction", err)
	}
	return reg, nil
}

func insertRegistration(ctx context.Context, q querier, reg *model.Registration, participants []model.Participant) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.PaymentStatus == "" {
		reg.PaymentStatus = model.PaymentPending
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO registrations (
			id, event_id, first_name, middle_name, last_name, reg_no, email, mobile,
			pass_type, slot, total_price, transaction_id, screenshot_url, payment_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`,
		reg.ID, reg.EventID, reg.FirstName, nullString(reg.MiddleName), reg.LastName, reg.RegNo, reg.Email, reg.Mobile,
		string(reg.PassType), string(reg.Slot), reg.TotalPrice, nullString(reg.TransactionID), nullString(reg.ScreenshotURL),
		string(reg.PaymentStatus),
	).Scan(&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRegistration
		}
		return classify("failed to create registration", err)
	}

	reg.Participants = reg.Participants[:0]
	for _, p := range participants {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.RegistrationID = reg.ID
		if _, err := q.ExecContext(ctx, `
			INSERT INTO participants (
				id, registration_id, member_number, first_name, middle_name, last_name, reg_no, email, mobile
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			p.ID, p.RegistrationID, p.MemberNumber, p.FirstName, nullString(p.MiddleName),
			p.LastName, p.RegNo, p.Email, p.Mobile,
		); err != nil {
			return classify(fmt.Sprintf("failed to create participant %d", p.MemberNumber), err)
		}
		reg.Participants = append(reg.Participants, p)
	}
	return nil
}

func (r *repository) UpdatePaymentFields(ctx context.Context, id string, upd model.PaymentUpdate) (*model.Registration, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("failed to start transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT payment_status
		FROM registrations
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, classify("failed to select registration for payment update", err)
	}

	if !model.PaymentStatus(current).CanTransitionTo(upd.Status) {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, upd.Status)
	}

	var screenshotURL string
	if upd.ScreenshotURL != nil {
		screenshotURL = *upd.ScreenshotURL
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE registrations
		SET transaction_id = $1,
		    screenshot_url = COALESCE(NULLIF($2::text, ''), screenshot_url),
		    payment_status = $3,
		    updated_at = NOW()
		WHERE id = $4
	`, upd.TransactionID, screenshotURL, string(upd.Status), id); err != nil {
		_ = tx.Rollback()
		return nil, classify("failed to update payment fields", err)
	}

	reg, err := getRegistration(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("failed to commit transaction", err)
	}
	return reg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
