package auth

import (
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword(hash, "correct-horse-battery-staple") {
		t.Error("VerifyPassword rejected the correct password")
	}
	if VerifyPassword(hash, "wrong-password") {
		t.Error("VerifyPassword accepted the wrong password")
	}
}

func TestEncryptDecryptTOTPSecretRoundTrip(t *testing.T) {
	key := NewSecretBoxKey([]byte("0123456789abcdef0123456789abcdef"))
	encrypted, err := EncryptTOTPSecret(key, "JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("EncryptTOTPSecret: %v", err)
	}
	decrypted, err := DecryptTOTPSecret(key, encrypted)
	if err != nil {
		t.Fatalf("DecryptTOTPSecret: %v", err)
	}
	if decrypted != "JBSWY3DPEHPK3PXP" {
		t.Errorf("decrypted = %q, want JBSWY3DPEHPK3PXP", decrypted)
	}
}

func TestDecryptTOTPSecretWrongKeyFails(t *testing.T) {
	key1 := NewSecretBoxKey([]byte("key-one-key-one-key-one-key-one"))
	key2 := NewSecretBoxKey([]byte("key-two-key-two-key-two-key-two"))
	encrypted, err := EncryptTOTPSecret(key1, "a-secret")
	if err != nil {
		t.Fatalf("EncryptTOTPSecret: %v", err)
	}
	if _, err := DecryptTOTPSecret(key2, encrypted); err == nil {
		t.Error("DecryptTOTPSecret succeeded with the wrong key")
	}
}

func TestReplayGuardRejectsReuse(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	if !g.CheckAndConsume("alice", "123456") {
		t.Fatal("first use of a code should be accepted")
	}
	if g.CheckAndConsume("alice", "123456") {
		t.Error("replayed code should be rejected")
	}
	if !g.CheckAndConsume("bob", "123456") {
		t.Error("same code for a different user should be accepted")
	}
}

func TestReplayGuardSweepExpires(t *testing.T) {
	g := NewReplayGuard(time.Nanosecond)
	g.CheckAndConsume("alice", "000000")
	time.Sleep(time.Millisecond)
	g.Sweep()
	if len(g.seen) != 0 {
		t.Errorf("expected sweep to purge expired entries, got %d remaining", len(g.seen))
	}
}

func TestMatchHostIdentity(t *testing.T) {
	stored := types.HostIdentity{IP: "10.0.0.5", Hostname: "rx-1", MAC: "aa:bb:cc:dd:ee:ff", MachineID: "mid-1"}

	tests := []struct {
		name      string
		presented types.HostIdentity
		want      bool
	}{
		{"exact match", stored, true},
		{"ip changed, mac and machine id hold", types.HostIdentity{IP: "10.0.0.9", Hostname: "rx-1-new", MAC: stored.MAC, MachineID: stored.MachineID}, true},
		{"mac changed, ip+hostname and machine id hold", types.HostIdentity{IP: stored.IP, Hostname: stored.Hostname, MAC: "ff:ee:dd:cc:bb:aa", MachineID: stored.MachineID}, true},
		{"only one factor matches", types.HostIdentity{IP: "10.0.0.9", Hostname: "rx-1-new", MAC: "ff:ee:dd:cc:bb:aa", MachineID: stored.MachineID}, false},
		{"nothing matches", types.HostIdentity{IP: "1.1.1.1", Hostname: "other", MAC: "11:22:33:44:55:66", MachineID: "other-mid"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchHostIdentity(stored, tt.presented); got != tt.want {
				t.Errorf("MatchHostIdentity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateAndVerifyAgentCredential(t *testing.T) {
	raw, hash, err := GenerateAgentCredential()
	if err != nil {
		t.Fatalf("GenerateAgentCredential: %v", err)
	}
	if !VerifyAgentCredential(hash, raw) {
		t.Error("VerifyAgentCredential rejected the credential it just minted")
	}
	if VerifyAgentCredential(hash, "not-the-token") {
		t.Error("VerifyAgentCredential accepted a forged token")
	}
}

func TestCheckCSRF(t *testing.T) {
	token := NewCSRFToken()
	if !CheckCSRF(token, token) {
		t.Error("CheckCSRF rejected matching tokens")
	}
	if CheckCSRF(token, "") {
		t.Error("CheckCSRF accepted an empty session token")
	}
	if CheckCSRF("", token) {
		t.Error("CheckCSRF accepted an empty header token")
	}
	if CheckCSRF(token, NewCSRFToken()) {
		t.Error("CheckCSRF accepted mismatched tokens")
	}
}

func TestKeyedLimiterPerKey(t *testing.T) {
	l := NewKeyedLimiter(1, 1)
	if !l.Allow("1.2.3.4") {
		t.Fatal("first request from a key should be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Error("second immediate request should be throttled")
	}
	if !l.Allow("5.6.7.8") {
		t.Error("a different key should not be affected by the first key's limit")
	}
	l.Forget("1.2.3.4")
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after forgetting one key", l.Len())
	}
}
