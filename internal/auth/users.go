package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ats-platform/internal/rbac"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInactiveUser       = errors.New("auth: user is inactive")
)

type User struct {
	ID           string
	Email        string
	Name         string
	Role         rbac.Role
	PasswordHash string
	Active       bool
}

func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
}

// NOTE: This store assumes the users table exists:
//
//	CREATE TABLE users (
//	  id            TEXT PRIMARY KEY,
//	  email         TEXT NOT NULL UNIQUE,
//	  name          TEXT NOT NULL,
//	  role          TEXT NOT NULL,
//	  password_hash TEXT NOT NULL,
//	  active        BOOLEAN NOT NULL DEFAULT TRUE
//	)

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	const q = `
SELECT id, email, name, role, password_hash, active
FROM users
WHERE lower(email) = lower($1)
`
	var u User
	var role string
	err := s.db.QueryRowContext(ctx, q, strings.TrimSpace(email)).
		Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: find user: %w", err)
	}
	r, err := rbac.ParseRole(role)
	if err != nil {
		return User{}, fmt.Errorf("auth: user %s: %w", u.ID, err)
	}
	u.Role = r
	return u, nil
}

// MemoryUserStore is an in-process UserStore for tests and local runs.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryUserStore(users ...User) *MemoryUserStore {
	s := &MemoryUserStore{users: map[string]User{}}
	for _, u := range users {
		s.users[strings.ToLower(u.Email)] = u
	}
	return s
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: password is empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// dummyHash keeps unknown-email logins as slow as bad-password logins.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)

// Authenticate checks email and password against store.
//
// On a wrong password for an existing user it returns that user together with
// ErrInvalidCredentials so the caller can attribute the failed attempt. An
// unknown email returns an empty User and ErrInvalidCredentials.
func Authenticate(ctx context.Context, store UserStore, email, password string) (User, error) {
	u, err := store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return u, ErrInvalidCredentials
	}
	if !u.Active {
		return u, ErrInactiveUser
	}
	return u, nil
}
