package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatvault/internal/models"
)

// CreateUser creates one local user.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", models.ErrInvalidArgument)
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, fmt.Errorf("%w: password hash is required", models.ErrInvalidArgument)
	}

	userID, err := GenerateUserID(func(id string) (bool, error) {
		return s.userIDExists(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, username, passwordHash, formatTime(now))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, fmt.Errorf("user %s: %w", username, models.ErrConflict)
		}
		return nil, queryErr(ctx, "create user", err)
	}

	return &models.User{
		ID:           userID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// GetUserByUsername returns a user by normalized username, or nil when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
		LIMIT 1
	`, username)
	user, err := scanUser(row)
	if err != nil {
		return nil, queryErr(ctx, "get user", err)
	}
	return user, nil
}

// ListUsers returns all users sorted by username.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, queryErr(ctx, "list users", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storageErr("scan user", err)
		}
		if user == nil {
			continue
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(ctx, "list users", err)
	}
	return users, nil
}

// DeleteUser deletes one user by username.
func (s *Store) DeleteUser(ctx context.Context, username string) (bool, error) {
	username = normalizeUsername(username)
	if username == "" {
		return false, fmt.Errorf("%w: username is required", models.ErrInvalidArgument)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return false, queryErr(ctx, "delete user", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("delete user", err)
	}
	return affected > 0, nil
}

func (s *Store) userIDExists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ? LIMIT 1", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanUser(scanner interface {
	Scan(dest ...any) error
}) (*models.User, error) {
	var user models.User
	var createdAt string
	if err := scanner.Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	parsedCreated, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = parsedCreated
	return &user, nil
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}
