// Package userstore answers who a user is: owner, admin, premium or regular.
// Tiers come from the configuration and, when a database is configured,
// from PostgreSQL, which also keeps daily quota usage across restarts.
package userstore

import (
	"context"
	"time"

	"github.com/pavelc4/aether-queue/config"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RolePremium Role = "premium"
	RoleUser    Role = "user"
)

type User struct {
	ID        int64
	Username  string
	FirstName string
	Premium   bool
	FirstSeen time.Time
	LastSeen  time.Time
}

// Static resolves roles from the configured ID lists.
type Static struct {
	owner   int64
	admins  map[int64]struct{}
	premium map[int64]struct{}
}

func NewStatic(cfg *config.Config) *Static {
	s := &Static{
		owner:   cfg.OwnerID,
		admins:  make(map[int64]struct{}, len(cfg.AdminIDs)),
		premium: make(map[int64]struct{}, len(cfg.PremiumIDs)),
	}
	for _, id := range cfg.AdminIDs {
		s.admins[id] = struct{}{}
	}
	for _, id := range cfg.PremiumIDs {
		s.premium[id] = struct{}{}
	}
	return s
}

func (s *Static) Role(userID int64) Role {
	if s.owner != 0 && userID == s.owner {
		return RoleOwner
	}
	if _, ok := s.admins[userID]; ok {
		return RoleAdmin
	}
	if _, ok := s.premium[userID]; ok {
		return RolePremium
	}
	return RoleUser
}

func (s *Static) IsElevated(_ context.Context, userID int64) (bool, error) {
	return s.Role(userID) != RoleUser, nil
}

// Store combines the static roles with the optional database.
type Store struct {
	static *Static
	db     *Postgres
}

// New builds a Store. db may be nil, in which case users are not persisted.
func New(static *Static, db *Postgres) *Store {
	return &Store{static: static, db: db}
}

func (s *Store) Role(ctx context.Context, userID int64) Role {
	if r := s.static.Role(userID); r != RoleUser {
		return r
	}
	if s.db != nil {
		ok, err := s.db.IsPremium(ctx, userID)
		if err != nil {
			logger.Warn("Premium lookup failed", "user_id", userID, "error", err)
		} else if ok {
			return RolePremium
		}
	}
	return RoleUser
}

func (s *Store) IsElevated(ctx context.Context, userID int64) (bool, error) {
	if ok, _ := s.static.IsElevated(ctx, userID); ok {
		return true, nil
	}
	if s.db == nil {
		return false, nil
	}
	return s.db.IsPremium(ctx, userID)
}

func (s *Store) IsAdmin(userID int64) bool {
	r := s.static.Role(userID)
	return r == RoleOwner || r == RoleAdmin
}

// Touch records that a user interacted with the bot.
func (s *Store) Touch(ctx context.Context, u User) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveUser(ctx, u); err != nil {
		logger.Warn("Failed to save user", "user_id", u.ID, "error", err)
	}
}

func (s *Store) SetPremium(ctx context.Context, userID int64, premium bool) error {
	if s.db == nil {
		return errNoDatabase
	}
	return s.db.SetPremium(ctx, userID, premium)
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errNoDatabase
	}
	return s.db.CountUsers(ctx)
}

// LoadQuotas returns today's persisted usage, or nothing without a database.
func (s *Store) LoadQuotas(ctx context.Context) ([]quota.UserQuota, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.LoadQuotas(ctx, time.Now().UTC().Format("2006-01-02"))
}

func (s *Store) SaveQuotas(ctx context.Context, list []quota.UserQuota) error {
	if s.db == nil {
		return nil
	}
	return s.db.SaveQuotas(ctx, list)
}
