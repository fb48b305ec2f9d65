package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	recoveryCodeCount  = 10
	recoveryCodeLength = 8
	totpSecretSize     = 20
	qrImageSize        = 200
)

const recoveryCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MFAService manages TOTP enrollment and recovery codes for an account.
type MFAService struct {
	store  Store
	issuer string
	now    func() time.Time
}

// MFAOption configures MFAService behavior.
type MFAOption func(*MFAService)

// WithMFAIssuer sets the issuer shown in authenticator apps.
func WithMFAIssuer(issuer string) MFAOption {
	return func(m *MFAService) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			m.issuer = issuer
		}
	}
}

// WithMFAClock overrides the time source.
func WithMFAClock(fn func() time.Time) MFAOption {
	return func(m *MFAService) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMFAService constructs an MFAService.
func NewMFAService(store Store, opts ...MFAOption) (*MFAService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &MFAService{store: store, issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// MFAStatus reports whether MFA is active for the account.
type MFAStatus struct {
	Enabled bool `json:"enabled"`
}

// Enrollment holds one-time setup material. Returned exactly once; the
// secret is never retrievable afterwards.
type Enrollment struct {
	Secret        string
	EnrollmentURI string
	QRImage       string
}

// Status returns the current MFA state for the user.
func (m *MFAService) Status(ctx context.Context, userID string) (*MFAStatus, error) {
	user, err := m.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &MFAStatus{Enabled: user.MfaEnabled}, nil
}

// Enroll generates a TOTP secret for the user and stores it in a pending
// state. MFA stays off until Activate proves the authenticator works.
// Re-enrolling before activation simply replaces the pending secret.
func (m *MFAService) Enroll(ctx context.Context, userID string) (*Enrollment, error) {
	user, err := m.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MfaEnabled {
		return nil, ErrMfaAlreadyEnabled
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: user.Email,
		SecretSize:  totpSecretSize,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := m.store.Users().SetMfaSecret(ctx, userID, key.Secret()); err != nil {
		return nil, err
	}
	qr, err := encodeQRImage(key)
	if err != nil {
		return nil, err
	}
	return &Enrollment{
		Secret:        key.Secret(),
		EnrollmentURI: key.URL(),
		QRImage:       qr,
	}, nil
}

// Activate turns MFA on after the user proves possession of the enrolled
// secret with a current code. Returns the plaintext recovery codes; only
// their hashes are persisted, so this is the single chance to save them.
func (m *MFAService) Activate(ctx context.Context, userID, code string) ([]string, error) {
	user, err := m.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MfaEnabled {
		return nil, ErrMfaAlreadyEnabled
	}
	if user.MfaSecret == nil || *user.MfaSecret == "" {
		return nil, ErrMfaNotInitialized
	}
	if !verifyTOTP(*user.MfaSecret, code, m.now()) {
		return nil, ErrMfaCodeInvalid
	}
	if err := m.store.Users().EnableMfa(ctx, userID); err != nil {
		return nil, err
	}
	return m.issueRecoveryCodes(ctx, userID)
}

// RegenerateRecoveryCodes replaces all recovery codes with a fresh set.
// Previously issued codes stop working immediately.
func (m *MFAService) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := m.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MfaEnabled {
		return nil, ErrMfaNotEnabled
	}
	return m.issueRecoveryCodes(ctx, userID)
}

// Disable turns MFA off after re-verifying the account password. The TOTP
// secret and all recovery codes are discarded.
func (m *MFAService) Disable(ctx context.Context, userID, password string) error {
	user, err := m.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MfaEnabled {
		return ErrMfaNotEnabled
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	if err := m.store.Users().DisableMfa(ctx, userID); err != nil {
		return err
	}
	return m.store.RecoveryCodes().DeleteForUser(ctx, userID)
}

func (m *MFAService) issueRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := generateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := HashPassword(code)
		if err != nil {
			return nil, err
		}
		hashes[i] = hash
	}
	if err := m.store.RecoveryCodes().Replace(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// verifyTOTP validates a 6-digit code against the secret at the given time,
// allowing one 30s period of clock skew in either direction.
func verifyTOTP(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func normalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	if len(code) != recoveryCodeLength {
		return ""
	}
	for _, r := range code {
		if !strings.ContainsRune(recoveryCodeAlphabet, r) {
			return ""
		}
	}
	return code
}

func generateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		buf := make([]byte, recoveryCodeLength)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		out := make([]byte, recoveryCodeLength)
		for j, b := range buf {
			out[j] = recoveryCodeAlphabet[int(b)%len(recoveryCodeAlphabet)]
		}
		codes[i] = string(out)
	}
	return codes, nil
}

func encodeQRImage(key *otp.Key) (string, error) {
	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("render qr image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
