package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidAccount indicates the provider handed back an unusable identity.
	ErrInvalidAccount = errors.New("users: invalid account")
	// ErrAccountNotFound indicates no account exists for the given id.
	ErrAccountNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service keeps the account table in sync with what login providers report.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Upsert records a successful authentication: the account row is created on
// first login and refreshed on every later one.
func (s *Service) Upsert(ctx context.Context, userID, username, provider string) (Account, error) {
	userID = normalize(userID)
	if userID == "" {
		return Account{}, ErrInvalidAccount
	}
	username = normalize(username)
	if username == "" {
		username = userID
	}

	account := Account{
		UserID:     userID,
		Username:   username,
		Provider:   normalize(provider),
		LastSeenAt: s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "provider", "last_seen_at"}),
	}).Create(&account).Error
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Get returns the account stored for the given user id.
func (s *Service) Get(ctx context.Context, userID string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("user_id = ?", normalize(userID)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Usernames resolves display names for the given user ids. Unknown ids are
// simply absent from the result.
func (s *Service) Usernames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	var accounts []Account
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	for _, account := range accounts {
		names[account.UserID] = account.Username
	}
	return names, nil
}
