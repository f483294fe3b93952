package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"speakroom/internal/domain"
	"speakroom/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('teacher','student')),
	display_name TEXT NOT NULL DEFAULT '',
	avatar_path TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`

const userColumns = `id, username, password_hash, role, display_name, avatar_path, created_at`

type UserRepository struct {
	db Provider
}

func NewUserRepository(db Provider) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	return withConn(ctx, r.db, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, createUsersTable); err != nil {
			return fmt.Errorf("create users table: %w", err)
		}
		return ensureUserColumns(ctx, conn)
	})
}

// ensureUserColumns upgrades databases created before profile fields existed.
func ensureUserColumns(ctx context.Context, conn *sql.Conn) error {
	rows, err := conn.QueryContext(ctx, `PRAGMA table_info(users)`)
	if err != nil {
		return fmt.Errorf("describe users table: %w", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pragma table info: %w", err)
	}
	rows.Close()

	addColumn := func(name, statement string) error {
		if _, exists := columns[name]; exists {
			return nil
		}
		if _, err := conn.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
		return nil
	}

	if err := addColumn("display_name", `ALTER TABLE users ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	if err := addColumn("avatar_path", `ALTER TABLE users ADD COLUMN avatar_path TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	if !user.Role.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidRole, user.Role)
	}
	user.CreatedAt = time.Now().UTC()

	var id int64
	err := withConn(ctx, r.db, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
INSERT INTO users (username, password_hash, role, display_name, avatar_path, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			user.Username,
			user.PasswordHash,
			string(user.Role),
			user.DisplayName,
			user.AvatarPath,
			user.CreatedAt,
		)
		if err != nil {
			return mapWriteError(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("user last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	user.ID = id
	return id, nil
}

func (r *UserRepository) CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error) {
	if !user.Role.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidRole, user.Role)
	}
	user.CreatedAt = time.Now().UTC()

	var inserted bool
	err := withConn(ctx, r.db, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
INSERT INTO users (username, password_hash, role, display_name, avatar_path, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(username) DO NOTHING`,
			user.Username,
			user.PasswordHash,
			string(user.Role),
			user.DisplayName,
			user.AvatarPath,
			user.CreatedAt,
		)
		if err != nil {
			return mapWriteError(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("user rows affected: %w", err)
		}
		if aff == 0 {
			return nil
		}
		inserted = true
		user.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("user last insert id: %w", err)
		}
		return nil
	})
	return inserted, err
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user *domain.User
	err := withConn(ctx, r.db, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE username = ?`,
			username,
		)
		var err error
		user, err = scanUser(row)
		return err
	})
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var user *domain.User
	err := withConn(ctx, r.db, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE id = ?`,
			id,
		)
		var err error
		user, err = scanUser(row)
		return err
	})
	return user, err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, update domain.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.DisplayName != nil {
		sets = append(sets, "display_name=?")
		args = append(args, *update.DisplayName)
	}
	if update.AvatarPath != nil {
		sets = append(sets, "avatar_path=?")
		args = append(args, *update.AvatarPath)
	}
	args = append(args, id)

	return withConn(ctx, r.db, func(conn *sql.Conn) error {
		if len(sets) == 0 {
			var exists int
			err := conn.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrUserNotFound
			}
			if err != nil {
				return fmt.Errorf("check user: %w", err)
			}
			return nil
		}

		res, err := conn.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=?`, args...)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("profile rows affected: %w", err)
		}
		if aff == 0 {
			return repository.ErrUserNotFound
		}
		return nil
	})
}

func (r *UserRepository) CountByRole(ctx context.Context, role domain.Role) (int, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}

	var n int
	err := withConn(ctx, r.db, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role=?`, string(role)).Scan(&n); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		return nil
	})
	return n, err
}

func (r *UserRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}

	var users []domain.User
	err := withConn(ctx, r.db, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE role=?
ORDER BY id DESC`, string(role))
		if err != nil {
			return fmt.Errorf("query users: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, *user)
		}
		return rows.Err()
	})
	return users, err
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user      domain.User
		role      string
		createdAt any
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&role,
		&user.DisplayName,
		&user.AvatarPath,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("scan user %d: %w", user.ID, err)
	}
	user.Role = parsed
	user.CreatedAt = parseTimestamp(createdAt)
	return &user, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts both driver-decoded times and the text sqlite's
// CURRENT_TIMESTAMP default writes.
func parseTimestamp(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.Local()
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Local()
		}
	}
	return time.Time{}
}

func mapWriteError(err error) error {
	switch {
	case isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "unique"):
		return fmt.Errorf("%w: %v", repository.ErrUsernameTaken, err)
	case isConstraint(err, sqlite3.SQLITE_CONSTRAINT_CHECK, "check"):
		return fmt.Errorf("%w: %v", domain.ErrInvalidRole, err)
	default:
		return fmt.Errorf("insert user: %w", err)
	}
}

// isConstraint reports whether err is a sqlite constraint violation of the
// given extended code. Drivers that only report the primary code are matched
// on marker in the message.
func isConstraint(err error, extended int, marker string) bool {
	var sqlErr *msqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	if sqlErr.Code() == extended {
		return true
	}
	if sqlErr.Code() != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(strings.ToLower(sqlErr.Error()), marker)
}
