package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"ref":"refs/heads/main"}`)
	valid := Sign("sha1", secret, body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		presented string
		want      bool
	}{
		{"valid", secret, body, valid, true},
		{"tampered body", secret, []byte(`{"ref":"refs/heads/evil"}`), valid, false},
		{"wrong secret", "other", body, valid, false},
		{"missing header", secret, body, "", false},
		{"empty secret", "", body, Sign("sha1", "", body), false},
		{"no prefix", secret, body, valid[len("sha1="):], false},
		{"sha256 prefix", secret, body, "sha256=" + valid[len("sha1="):], false},
		{"uppercase hex", secret, body, "sha1=" + upper(valid[len("sha1="):]), false},
		{"garbage", secret, body, "sha1=zzzz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.secret, tt.body, tt.presented))
		})
	}
}

func TestVerifyRejectsEveryBitFlip(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"repository":{"full_name":"owner/docs"},"ref":"refs/heads/main"}`)
	sig := Sign("sha1", secret, body)
	assert.True(t, Verify(secret, body, sig))

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), body...)
			flipped[i] ^= 1 << bit
			if Verify(secret, flipped, sig) {
				t.Fatalf("flip of byte %d bit %d still verified", i, bit)
			}
		}
	}
}

func TestVerifyWithSHA256(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{}`)

	sig := Sign("sha256", secret, body)
	assert.Len(t, sig, len("sha256=")+64)
	assert.True(t, VerifyWith("sha256", secret, body, sig))
	assert.False(t, VerifyWith("sha1", secret, body, sig))
	assert.False(t, VerifyWith("md5", secret, body, sig))
	assert.Empty(t, Sign("md5", secret, body))
}

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA1("key", "The quick brown fox jumps over the lazy dog")
	got := Sign("sha1", "key", []byte("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "sha1=de7c9b85b8b78aa6bc8a7a36f70a90701c9db4d9", got)
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
