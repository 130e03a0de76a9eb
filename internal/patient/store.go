package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Zecruu/SpineLineDemo/internal/db"
)

// Store persists patients. Insurance, referral and alert records are append-only.
type Store interface {
	List(ctx context.Context, f Filter) (*Page, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Create(ctx context.Context, in CreateInput, actor uuid.UUID) (*Patient, error)
	Update(ctx context.Context, id uuid.UUID, upd Update, actor uuid.UUID) (*Patient, error)
	AddInsurance(ctx context.Context, id uuid.UUID, ins Insurance, actor uuid.UUID) (*Patient, error)
	AddReferral(ctx context.Context, id uuid.UUID, ref Referral, actor uuid.UUID) (*Patient, error)
	AddAlert(ctx context.Context, id uuid.UUID, a Alert, actor uuid.UUID) (*Patient, error)
}

type PgStore struct {
	pool db.Querier
}

func NewPgStore(pool db.Querier) *PgStore {
	return &PgStore{pool: pool}
}

const patientColumns = `id, first_name, last_name, date_of_birth, gender,
	COALESCE(email, ''), COALESCE(phone_number, ''), COALESCE(alternate_phone, ''), preferred_contact,
	address, emergency_contact, medical_history, insurance, referrals, alerts,
	status, COALESCE(notes, ''), created_by, updated_by, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p                            Patient
		gender, contact, status      string
		address, emergency, history  []byte
		insurance, referrals, alerts []byte
	)
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &gender,
		&p.Email, &p.Phone, &p.AlternatePhone, &contact,
		&address, &emergency, &history, &insurance, &referrals, &alerts,
		&status, &p.Notes, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Gender = Gender(gender)
	p.PreferredContact = ContactMethod(contact)
	p.Status = Status(status)

	docs := []struct {
		column string
		raw    []byte
		dst    any
	}{
		{"address", address, &p.Address},
		{"emergency_contact", emergency, &p.EmergencyContact},
		{"medical_history", history, &p.MedicalHistory},
		{"insurance", insurance, &p.Insurance},
		{"referrals", referrals, &p.Referrals},
		{"alerts", alerts, &p.Alerts},
	}
	for _, d := range docs {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("decode patient %s: %w", d.column, err)
		}
	}
	return &p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PgStore) List(ctx context.Context, f Filter) (*Page, error) {
	f = f.normalized()

	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		args = append(args, "%"+likeEscaper.Replace(term)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d OR phone_number ILIKE $%d)", n, n, n, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &Page{Page: f.Page, Limit: f.Limit, Patients: []Patient{}}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}

	args = append(args, f.Limit, f.offset())
	query := `SELECT ` + patientColumns + ` FROM patients` + clause +
		fmt.Sprintf(" ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		page.Patients = append(page.Patients, *p)
	}
	return page, rows.Err()
}

func (s *PgStore) FindByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (s *PgStore) Create(ctx context.Context, in CreateInput, actor uuid.UUID) (*Patient, error) {
	address, err := json.Marshal(in.Address)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	emergency, err := json.Marshal(in.EmergencyContact)
	if err != nil {
		return nil, fmt.Errorf("encode emergency contact: %w", err)
	}
	history, err := json.Marshal(in.MedicalHistory)
	if err != nil {
		return nil, fmt.Errorf("encode medical history: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, date_of_birth, gender, email, phone_number,
			alternate_phone, preferred_contact, address, emergency_contact, medical_history,
			status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9,
			$10, $11, $12, $13, NULLIF($14, ''), $15, now(), now())
		RETURNING `+patientColumns,
		uuid.New(), in.FirstName, in.LastName, in.DateOfBirth, string(in.Gender), in.Email, in.Phone,
		in.AlternatePhone, string(in.PreferredContact), address, emergency, history,
		string(in.Status), in.Notes, actor,
	)
	created, err := scanPatient(row)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return created, nil
}

func (s *PgStore) Update(ctx context.Context, id uuid.UUID, upd Update, actor uuid.UUID) (*Patient, error) {
	address, err := optionalJSON(upd.Address)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	emergency, err := optionalJSON(upd.EmergencyContact)
	if err != nil {
		return nil, fmt.Errorf("encode emergency contact: %w", err)
	}
	history, err := optionalJSON(upd.MedicalHistory)
	if err != nil {
		return nil, fmt.Errorf("encode medical history: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE patients
		SET first_name = COALESCE($2, first_name),
		    last_name = COALESCE($3, last_name),
		    date_of_birth = COALESCE($4, date_of_birth),
		    gender = COALESCE($5, gender),
		    email = COALESCE($6, email),
		    phone_number = COALESCE($7, phone_number),
		    alternate_phone = COALESCE($8, alternate_phone),
		    preferred_contact = COALESCE($9, preferred_contact),
		    address = COALESCE($10::jsonb, address),
		    emergency_contact = COALESCE($11::jsonb, emergency_contact),
		    medical_history = COALESCE($12::jsonb, medical_history),
		    status = COALESCE($13, status),
		    notes = COALESCE($14, notes),
		    updated_by = $15,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+patientColumns,
		id, upd.FirstName, upd.LastName, upd.DateOfBirth, stringPtr(upd.Gender), upd.Email, upd.Phone,
		upd.AlternatePhone, stringPtr(upd.PreferredContact), address, emergency, history,
		stringPtr(upd.Status), upd.Notes, actor,
	)
	updated, err := scanPatient(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	return updated, err
}

func (s *PgStore) AddInsurance(ctx context.Context, id uuid.UUID, ins Insurance, actor uuid.UUID) (*Patient, error) {
	return s.appendRecord(ctx, id, "insurance", ins, actor)
}

func (s *PgStore) AddReferral(ctx context.Context, id uuid.UUID, ref Referral, actor uuid.UUID) (*Patient, error) {
	return s.appendRecord(ctx, id, "referrals", ref, actor)
}

func (s *PgStore) AddAlert(ctx context.Context, id uuid.UUID, a Alert, actor uuid.UUID) (*Patient, error) {
	return s.appendRecord(ctx, id, "alerts", a, actor)
}

// appendRecord pushes record onto one of the JSONB array columns in a single statement.
// column is always one of the constants above.
func (s *PgStore) appendRecord(ctx context.Context, id uuid.UUID, column string, record any, actor uuid.UUID) (*Patient, error) {
	raw, err := json.Marshal([]any{record})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", column, err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE patients
		SET `+column+` = `+column+` || $2::jsonb, updated_by = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+patientColumns, id, raw, actor)
	p, err := scanPatient(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("append patient %s: %w", column, err)
	}
	return p, err
}

func optionalJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func stringPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
