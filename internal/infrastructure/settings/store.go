package settings

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"biosync/internal/errs"
	"biosync/internal/infrastructure/persistence/sqlite/model"
	"biosync/internal/ports"
)

const (
	keyPayrollUsername = "payroll.username"
	keyPayrollPassword = "payroll.password"
	keyPayrollToken    = "payroll.token"
	keyPayrollPrinc    = "payroll.principal"
	keyPayrollIssuedAt = "payroll.token_issued_at"
	keyLastPullAt      = "sync.last_pull_at"
	keyLastPushAt      = "sync.last_push_at"
)

// Store persists the singleton settings slot in the ledger database.
type Store struct {
	db *gorm.DB
}

var _ ports.Settings = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	if ctx == nil {
		return "", false, errors.New("context is required")
	}

	var row model.SettingKV
	if err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrapf(err, "query setting %q", key)
	}
	return row.Value, true, nil
}

func (s *Store) set(ctx context.Context, key string, value string) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	row := model.SettingKV{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrapf(err, "upsert setting %q", key)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, keys ...string) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Delete(&model.SettingKV{}).Error; err != nil {
		return errs.Wrap(err, "delete settings")
	}
	return nil
}

func (s *Store) Credential(ctx context.Context) (ports.Credential, bool, error) {
	var cred ports.Credential

	username, _, err := s.get(ctx, keyPayrollUsername)
	if err != nil {
		return ports.Credential{}, false, err
	}
	password, _, err := s.get(ctx, keyPayrollPassword)
	if err != nil {
		return ports.Credential{}, false, err
	}
	token, _, err := s.get(ctx, keyPayrollToken)
	if err != nil {
		return ports.Credential{}, false, err
	}
	principal, _, err := s.get(ctx, keyPayrollPrinc)
	if err != nil {
		return ports.Credential{}, false, err
	}
	issuedAt, _, err := s.get(ctx, keyPayrollIssuedAt)
	if err != nil {
		return ports.Credential{}, false, err
	}

	cred.Username = username
	cred.Password = password
	cred.Token = token
	cred.Principal = principal
	if stamp := strings.TrimSpace(issuedAt); stamp != "" {
		if at, parseErr := time.Parse(time.RFC3339Nano, stamp); parseErr == nil {
			cred.IssuedAt = at
		}
	}

	found := username != "" || token != ""
	return cred, found, nil
}

func (s *Store) SetCredential(ctx context.Context, cred ports.Credential) error {
	if err := s.set(ctx, keyPayrollUsername, cred.Username); err != nil {
		return err
	}
	if err := s.set(ctx, keyPayrollPassword, cred.Password); err != nil {
		return err
	}
	if err := s.set(ctx, keyPayrollToken, cred.Token); err != nil {
		return err
	}
	if err := s.set(ctx, keyPayrollPrinc, cred.Principal); err != nil {
		return err
	}

	issuedAt := cred.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	return s.set(ctx, keyPayrollIssuedAt, issuedAt.Format(time.RFC3339Nano))
}

// ClearToken drops only the session token so the next push re-authenticates
// with the stored username/password.
func (s *Store) ClearToken(ctx context.Context) error {
	return s.delete(ctx, keyPayrollToken, keyPayrollPrinc, keyPayrollIssuedAt)
}

func (s *Store) ClearCredential(ctx context.Context) error {
	return s.delete(
		ctx,
		keyPayrollUsername,
		keyPayrollPassword,
		keyPayrollToken,
		keyPayrollPrinc,
		keyPayrollIssuedAt,
	)
}

func (s *Store) LastPullAt(ctx context.Context) (time.Time, bool, error) {
	return s.timeAt(ctx, keyLastPullAt)
}

func (s *Store) SetLastPullAt(ctx context.Context, at time.Time) error {
	return s.set(ctx, keyLastPullAt, at.UTC().Format(time.RFC3339Nano))
}

func (s *Store) LastPushAt(ctx context.Context) (time.Time, bool, error) {
	return s.timeAt(ctx, keyLastPushAt)
}

func (s *Store) SetLastPushAt(ctx context.Context, at time.Time) error {
	return s.set(ctx, keyLastPushAt, at.UTC().Format(time.RFC3339Nano))
}

func (s *Store) timeAt(ctx context.Context, key string) (time.Time, bool, error) {
	value, found, err := s.get(ctx, key)
	if err != nil || !found {
		return time.Time{}, false, err
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, errs.Wrapf(err, "parse setting %q", key)
	}
	return at, true, nil
}
