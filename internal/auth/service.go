package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"maktab.org/internal/ids"
)

const (
	defaultIssuer     = "maktab"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
	defaultTempTTL    = 10 * time.Minute
)

// Service issues, refreshes, and verifies session credentials. The signing
// secret is injected once at construction and never read from ambient state.
type Service struct {
	store  Store
	secret []byte
	issuer string
	now    func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
	tempTTL    time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithTempTTL configures MFA temp token lifetime.
func WithTempTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tempTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. The secret is required: HS256 tokens are
// worthless without one, so an empty secret is a configuration error.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		tempTTL:    defaultTempTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// EnsureBuiltins seeds the permission catalog. Safe to call at every start.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions().Ensure(ctx, BuiltinPermissions)
}

// TokenPair is a freshly issued access/refresh credential pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a successful credential verification. When
// MfaRequired is set only TempToken is populated; otherwise the pair, the
// user profile, and the claims snapshot are present.
type LoginResult struct {
	MfaRequired bool
	TempToken   string

	Pair   TokenPair
	User   UserProfile
	Claims *AccessClaims
}

// Login verifies email+password. Unknown email and wrong password produce
// the same ErrInvalidCredentials so responses cannot leak account existence.
// MFA-enabled accounts receive a short-lived temp token instead of a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.MfaEnabled {
		temp, err := s.signTempToken(user)
		if err != nil {
			return nil, err
		}
		return &LoginResult{MfaRequired: true, TempToken: temp}, nil
	}
	return s.establishSession(ctx, user)
}

// CompleteMfaLogin promotes a temp token to a full session after a valid
// TOTP code. The claims are rebuilt fresh, exactly as at password login.
func (s *Service) CompleteMfaLogin(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	user, err := s.userFromTempToken(ctx, tempToken)
	if err != nil {
		return nil, err
	}
	if !user.MfaEnabled || user.MfaSecret == nil {
		return nil, ErrMfaNotEnabled
	}
	if !verifyTOTP(*user.MfaSecret, code, s.now()) {
		return nil, ErrMfaCodeInvalid
	}
	return s.establishSession(ctx, user)
}

// CompleteRecoveryLogin promotes a temp token to a full session by consuming
// a single-use recovery code. The matched code is marked used atomically; a
// replay of the same code fails even under concurrency.
func (s *Service) CompleteRecoveryLogin(ctx context.Context, tempToken, recoveryCode string) (*LoginResult, error) {
	user, err := s.userFromTempToken(ctx, tempToken)
	if err != nil {
		return nil, err
	}
	if !user.MfaEnabled {
		return nil, ErrMfaNotEnabled
	}
	code := normalizeRecoveryCode(recoveryCode)
	if code == "" {
		return nil, ErrRecoveryCodeInvalid
	}
	ok, err := s.store.RecoveryCodes().Consume(ctx, user.ID, func(hash string) bool {
		return VerifyPassword(hash, code) == nil
	}, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecoveryCodeInvalid
	}
	return s.establishSession(ctx, user)
}

// Refresh rotates a refresh token and issues a new pair. The old token is
// revoked and the replacement inserted in one transaction, so a given token
// value succeeds at most once; the claims on the new access token reflect
// the store at rotation time, not at original login.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *AccessClaims, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, nil, ErrTokenInvalid
	}
	now := s.now()
	replacement, err := newOpaqueToken()
	if err != nil {
		return nil, nil, err
	}
	record, err := s.store.RefreshTokens().Rotate(ctx, refreshToken, replacement, now.Add(s.refreshTTL), now)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.Users().Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrTokenInvalid
		}
		return nil, nil, err
	}
	claims, err := s.buildClaims(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	access, accessExp, err := s.signAccessToken(claims)
	if err != nil {
		return nil, nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     replacement,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, claims, nil
}

// RevokeAll invalidates every active refresh token for the user. Idempotent;
// used by logout and forced re-authentication.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.store.RefreshTokens().RevokeAllForUser(ctx, userID)
}

// VerifyAccessToken checks signature, expiry, issuer, and token type.
// Anything but a live access token fails: in particular an MFA temp token
// is rejected here, which is what keeps it off permission-gated routes.
func (s *Service) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parseToken(token, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	claims.Permissions = dedupePermissions(claims.Permissions)
	return claims, nil
}

// VerifyTempToken checks an MFA step-up token. Only the step-up endpoints
// call this.
func (s *Service) VerifyTempToken(token string) (*TempClaims, error) {
	claims := &TempClaims{}
	if err := s.parseToken(token, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeMfaTemp || !claims.MfaPending {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// PermissionsForUser re-derives current grants from the store. This is the
// consistency path for call sites that cannot tolerate the claims snapshot.
func (s *Service) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	names, err := s.store.Permissions().NamesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dedupePermissions(names), nil
}

func (s *Service) establishSession(ctx context.Context, user *User) (*LoginResult, error) {
	claims, err := s.buildClaims(ctx, user)
	if err != nil {
		return nil, err
	}
	pair, err := s.mintPair(ctx, user.ID, claims)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Pair: *pair, User: user.Profile(), Claims: claims}, nil
}

// buildClaims assembles a fresh claims snapshot from current store state.
// Pure read; two invocations at different times may legitimately differ.
func (s *Service) buildClaims(ctx context.Context, user *User) (*AccessClaims, error) {
	assignments, err := s.store.Roles().AssignmentsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}
	perms, err := s.store.Permissions().NamesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &AccessClaims{
		Email:       user.Email,
		SchoolID:    user.SchoolID,
		Role:        user.Role,
		RoleIDs:     roleIDs,
		Permissions: dedupePermissions(perms),
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}, nil
}

func (s *Service) mintPair(ctx context.Context, userID string, claims *AccessClaims) (*TokenPair, error) {
	access, accessExp, err := s.signAccessToken(claims)
	if err != nil {
		return nil, err
	}
	opaque, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		Token:     opaque,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     opaque,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(claims *AccessClaims) (string, time.Time, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (s *Service) signTempToken(user *User) (string, error) {
	now := s.now().UTC()
	claims := &TempClaims{
		Email:      user.Email,
		MfaPending: true,
		TokenType:  TokenTypeMfaTemp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tempTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign temp token: %w", err)
	}
	return signed, nil
}

func (s *Service) parseToken(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

func (s *Service) userFromTempToken(ctx context.Context, tempToken string) (*User, error) {
	claims, err := s.VerifyTempToken(tempToken)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return user, nil
}

// newOpaqueToken returns 32 bytes of CSPRNG output, base64url encoded.
// Stored verbatim with a unique index; lookups are exact string matches.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
