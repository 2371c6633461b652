package premium

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/storage"
)

var (
	ErrLicenseNotFound  = errors.New("license key not found")
	ErrLicenseInactive  = errors.New("license is inactive")
	ErrLicenseExpired   = errors.New("license has expired")
	ErrLicenseExhausted = errors.New("license activation limit reached")
)

// HashKey returns the stored form of a raw license key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// IsActive reports whether the guild's premium entitlement holds at now. A
// premium guild without an expiry never lapses.
func IsActive(settings storage.GuildSettings, now time.Time) bool {
	if !settings.IsPremium {
		return false
	}
	return settings.PremiumUntil == nil || settings.PremiumUntil.After(now)
}

// Eligible checks whether license can back guildID at now.
func Eligible(license storage.PremiumLicense, guildID string, now time.Time) error {
	if !license.Active {
		return ErrLicenseInactive
	}
	if license.ExpiresAt != nil && !license.ExpiresAt.After(now) {
		return ErrLicenseExpired
	}
	if !license.HasGuild(guildID) && len(license.ActivatedGuildIDs) >= license.MaxGuilds {
		return ErrLicenseExhausted
	}
	return nil
}

type Service struct {
	repo   storage.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo storage.Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Activate binds the guild to the license whose key hashes to keyHash.
// Activating a guild that is already bound succeeds without using a slot.
func (s *Service) Activate(ctx context.Context, guildID, keyHash string) (storage.PremiumLicense, error) {
	now := s.now()
	license, err := s.repo.ActivateLicense(ctx, guildID, keyHash, func(license storage.PremiumLicense) error {
		return Eligible(license, guildID, now)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return storage.PremiumLicense{}, ErrLicenseNotFound
	}
	if err != nil {
		return storage.PremiumLicense{}, fmt.Errorf("activate license: %w", err)
	}
	s.logger.Info("premium activated",
		zap.String("guild_id", guildID),
		zap.Int64("license_id", license.ID),
		zap.String("plan", license.Plan),
	)
	return license, nil
}
