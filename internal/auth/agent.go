package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/CLIAIMONITOR/internal/types"
)

// GenerateAgentCredential returns a fresh bearer token for an agent plus its
// bcrypt hash for storage as Agent.CredentialHash (spec.md §4.2, §4.3 "a
// generated agent credential"). The raw token is shown to the operator
// exactly once, at enrollment time.
func GenerateAgentCredential() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate credential: %w", err)
	}
	raw = hex.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash credential: %w", err)
	}
	return raw, string(hashed), nil
}

// VerifyAgentCredential reports whether raw matches the stored bcrypt hash.
func VerifyAgentCredential(hash, raw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// MatchHostIdentity reports whether presented binds to stored under the
// 2-of-3 factor rule (spec.md §4.2): the (IP, hostname) pair counts as one
// factor, MAC as a second, machine id as a third. An agent's presented
// identity must agree with at least two of the three to be accepted,
// tolerating one factor having drifted (e.g. DHCP lease change) without
// forcing re-enrollment.
func MatchHostIdentity(stored, presented types.HostIdentity) bool {
	matches := 0
	if stored.IP != "" && stored.Hostname != "" && stored.IP == presented.IP && stored.Hostname == presented.Hostname {
		matches++
	}
	if stored.MAC != "" && stored.MAC == presented.MAC {
		matches++
	}
	if stored.MachineID != "" && stored.MachineID == presented.MachineID {
		matches++
	}
	return matches >= 2
}
