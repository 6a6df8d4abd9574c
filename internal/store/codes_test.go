package store

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), CodeLength)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("only %d distinct codes out of 50, generator looks broken", len(seen))
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcd2345", "ABCD2345"},
		{"  ABCD2345  ", "ABCD2345"},
		{"AbCd2345", "ABCD2345"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPairingCodeExpired(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	code := PairingCode{ExpiresAt: expiry}

	if code.Expired(expiry.Add(-time.Second)) {
		t.Error("code should be valid one second before expiry")
	}
	if !code.Expired(expiry) {
		t.Error("code exactly at the expiry instant should be expired")
	}
	if !code.Expired(expiry.Add(time.Second)) {
		t.Error("code should be expired after the expiry instant")
	}
}

func TestSenderKey(t *testing.T) {
	if got := SenderKey("telegram", "386246614"); got != "telegram:386246614" {
		t.Errorf("SenderKey = %q", got)
	}
}

func TestPairingOptionsWithDefaults(t *testing.T) {
	opts := PairingOptions{}.WithDefaults()
	if opts.CodeTTL != 300*time.Second {
		t.Errorf("CodeTTL = %v, want 300s", opts.CodeTTL)
	}
	if opts.MaxPerMinute != 60 {
		t.Errorf("MaxPerMinute = %d, want 60", opts.MaxPerMinute)
	}
	if opts.Now == nil {
		t.Error("Now should default to the wall clock")
	}

	set := PairingOptions{CodeTTL: time.Minute, MaxPerMinute: 5}.WithDefaults()
	if set.CodeTTL != time.Minute || set.MaxPerMinute != 5 {
		t.Error("explicit options must survive WithDefaults")
	}
}
