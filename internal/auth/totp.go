package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/nacl/secretbox"
)

// secretBoxKey derives the at-rest encryption key for TOTP secrets from a
// deployment-wide key material the caller supplies at startup (spec.md
// §4.2 "TOTP secrets are never stored in plaintext").
type secretBoxKey [32]byte

// NewSecretBoxKey pads or truncates arbitrary key material into the fixed
// 32-byte key nacl/secretbox requires.
func NewSecretBoxKey(material []byte) secretBoxKey {
	var k secretBoxKey
	copy(k[:], material)
	return k
}

// EncryptTOTPSecret seals secret for storage in operator_users.totp_secret_encrypted.
func EncryptTOTPSecret(key secretBoxKey, secret string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(secret), &nonce, (*[32]byte)(&key))
	return base32.StdEncoding.EncodeToString(sealed), nil
}

// DecryptTOTPSecret reverses EncryptTOTPSecret.
func DecryptTOTPSecret(key secretBoxKey, encoded string) (string, error) {
	sealed, err := base32.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(sealed) < 24 {
		return "", fmt.Errorf("sealed secret too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, (*[32]byte)(&key))
	if !ok {
		return "", fmt.Errorf("decrypt totp secret: authentication failed")
	}
	return string(plain), nil
}

// GenerateTOTPSecret creates a fresh RFC 6238 secret and the enrollment QR
// URI an operator scans into an authenticator app (spec.md §4.2 "first
// login prompts TOTP enrollment").
func GenerateTOTPSecret(username, issuer string) (secret string, otpauthURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: username,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTPCode checks a 6-digit code against secret for the current
// time step, allowing the standard one-step skew.
func ValidateTOTPCode(secret, code string) bool {
	valid, _ := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return valid
}

// ReplayGuard rejects a TOTP code that has already been consumed within its
// validity window, closing the narrow re-use race a bare ValidateTOTPCode
// check leaves open (spec.md §4.2 "a TOTP code may not be replayed").
// The shape is grounded on the recentAlerts dedup map: track "seen" keys
// with a timestamp and periodically sweep ones outside the window.
type ReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewReplayGuard returns a guard that remembers consumed codes for ttl,
// comfortably longer than the TOTP skew window.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]time.Time), ttl: ttl}
}

// CheckAndConsume reports whether (username, code) is fresh. If fresh, it
// is recorded as consumed and true is returned; if already consumed within
// ttl, false is returned and the caller must refuse authentication.
func (g *ReplayGuard) CheckAndConsume(username, code string) bool {
	key := username + ":" + code
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if seenAt, ok := g.seen[key]; ok && now.Sub(seenAt) < g.ttl {
		return false
	}
	g.seen[key] = now
	return true
}

// Sweep purges entries older than ttl. Intended to run on the TOTP-replay
// maintenance tick (spec.md §4.7).
func (g *ReplayGuard) Sweep() {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, t := range g.seen {
		if now.Sub(t) > g.ttl {
			delete(g.seen, k)
		}
	}
}
