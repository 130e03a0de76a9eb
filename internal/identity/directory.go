package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Zecruu/SpineLineDemo/internal/db"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
)

// Directory maps identity-provider subjects to clinic staff accounts.
type Directory interface {
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, u *User) (*User, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, f UserFilter) ([]User, error)
	Update(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error)
}

type PgDirectory struct {
	pool db.Querier
}

func NewPgDirectory(pool db.Querier) *PgDirectory {
	return &PgDirectory{pool: pool}
}

const userColumns = `id, external_id, email, full_name, role, is_active,
	COALESCE(phone_number, ''), COALESCE(specialization, ''), COALESCE(notes, ''),
	last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.FullName, &role, &u.IsActive,
		&u.PhoneNumber, &u.Specialization, &u.Notes, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (d *PgDirectory) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
	return scanUser(row)
}

func (d *PgDirectory) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (d *PgDirectory) Create(ctx context.Context, u *User) (*User, error) {
	id := u.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	role := u.Role
	if role == "" {
		role = DefaultRole
	}

	row := d.pool.QueryRow(ctx, `
		INSERT INTO users (id, external_id, email, full_name, role, is_active, phone_number,
			specialization, notes, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), now(), now(), now())
		RETURNING `+userColumns,
		id, u.ExternalID, strings.ToLower(u.Email), u.FullName, string(role),
		u.PhoneNumber, u.Specialization, u.Notes,
	)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (d *PgDirectory) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := d.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (d *PgDirectory) List(ctx context.Context, f UserFilter) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var (
		where []string
		args  []any
	)
	if f.Role != nil {
		args = append(args, string(*f.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY full_name"

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (d *PgDirectory) Update(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error) {
	var role *string
	if upd.Role != nil {
		r := string(*upd.Role)
		role = &r
	}

	row := d.pool.QueryRow(ctx, `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
		    role = COALESCE($3, role),
		    phone_number = COALESCE($4, phone_number),
		    specialization = COALESCE($5, specialization),
		    notes = COALESCE($6, notes),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		id, upd.FullName, role, upd.PhoneNumber, upd.Specialization, upd.Notes,
	)
	return scanUser(row)
}

func (d *PgDirectory) SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	row := d.pool.QueryRow(ctx, `
		UPDATE users SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id, active)
	return scanUser(row)
}
