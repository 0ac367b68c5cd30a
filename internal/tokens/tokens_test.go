package tokens

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}
	b, _ := Generate()
	if a == b {
		t.Error("expected two generated tokens to differ")
	}
}

func TestHashStable(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Error("expected hash to be deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Error("expected different inputs to hash differently")
	}
	if len(Hash("abc")) != 64 {
		t.Errorf("hash length = %d, want 64", len(Hash("abc")))
	}
}

func TestFingerprintDoesNotLeakToken(t *testing.T) {
	raw, _ := Generate()
	fp := Fingerprint(raw)
	if len(fp) != 12 {
		t.Errorf("fingerprint length = %d, want 12", len(fp))
	}
	if strings.Contains(raw, fp) {
		t.Error("fingerprint should not be a substring of the raw token")
	}
}
