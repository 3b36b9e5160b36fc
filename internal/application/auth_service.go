package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/example/class-scheduler/internal/logging"
)

// StaffKey is a configured API key. Hash is produced by CreateKeyHash.
type StaffKey struct {
	StaffID  string
	Role     Role
	Hash     string
	Disabled bool
}

// KeyVerifier compares a stored hash with a presented secret.
type KeyVerifier func(hashed, secret string) error

// AuthService resolves bearer tokens of the form "<staff id>.<secret>" to a
// Principal. Successful verifications are cached for the configured TTL.
type AuthService struct {
	keys      map[string]StaffKey
	verifyKey KeyVerifier
	verified  *cache.Cache
	logger    *slog.Logger
}

// NewAuthService constructs an AuthService over the configured keys. A
// non-positive ttl disables the verification cache.
func NewAuthService(keys []StaffKey, verify KeyVerifier, ttl time.Duration) *AuthService {
	return NewAuthServiceWithLogger(keys, verify, ttl, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(keys []StaffKey, verify KeyVerifier, ttl time.Duration, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyKey
	}
	byStaff := make(map[string]StaffKey, len(keys))
	for _, key := range keys {
		byStaff[strings.TrimSpace(key.StaffID)] = key
	}
	var verified *cache.Cache
	if ttl > 0 {
		verified = cache.New(ttl, 2*ttl)
	}
	return &AuthService{
		keys:      byStaff,
		verifyKey: verify,
		verified:  verified,
		logger:    logging.OrDefault(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Authenticate verifies a bearer token and returns its principal.
func (s *AuthService) Authenticate(ctx context.Context, token string) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	staffID, secret, _ := strings.Cut(strings.TrimSpace(token), ".")
	logger := s.loggerWith(ctx, "Authenticate", "staff_id", staffID)
	cached := false
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("role", principal.Role, "cached", cached).DebugContext(ctx, "authentication succeeded")
	}()

	if staffID == "" || secret == "" {
		err = ErrInvalidCredentials
		return
	}

	cacheKey := tokenDigest(token)
	if s.verified != nil {
		if hit, ok := s.verified.Get(cacheKey); ok {
			principal = hit.(Principal)
			cached = true
			return
		}
	}

	key, ok := s.keys[staffID]
	if !ok {
		err = ErrInvalidCredentials
		return
	}
	if key.Disabled {
		err = ErrAccountDisabled
		return
	}
	if err = s.verifyKey(key.Hash, secret); err != nil {
		err = ErrInvalidCredentials
		return
	}

	principal = Principal{StaffID: key.StaffID, Role: key.Role}
	if s.verified != nil {
		s.verified.SetDefault(cacheKey, principal)
	}
	return
}

// Forget drops any cached verification of token.
func (s *AuthService) Forget(token string) {
	if s == nil || s.verified == nil {
		return
	}
	s.verified.Delete(tokenDigest(token))
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
