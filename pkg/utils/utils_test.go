package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHashSecret(t *testing.T) {
	secret := "testsecret"

	hash, err := HashSecret(secret, 4)
	if err != nil {
		t.Errorf("HashSecret() error = %v", err)
		return
	}

	if len(hash) == 0 {
		t.Error("HashSecret() returned empty hash")
	}

	// Test that the same secret produces different hashes (salt)
	hash2, err := HashSecret(secret, 4)
	if err != nil {
		t.Errorf("HashSecret() error = %v", err)
		return
	}

	if hash == hash2 {
		t.Error("HashSecret() should produce different hashes due to salt")
	}
}

func TestCheckSecret(t *testing.T) {
	hash, err := HashSecret("testsecret", 4)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}

	tests := []struct {
		name   string
		secret string
		hash   string
		want   bool
	}{
		{name: "correct secret", secret: "testsecret", hash: hash, want: true},
		{name: "wrong secret", secret: "wrongsecret", hash: hash, want: false},
		{name: "empty secret", secret: "", hash: hash, want: false},
		{name: "malformed hash", secret: "testsecret", hash: "not-a-hash", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckSecret(tt.secret, tt.hash); got != tt.want {
				t.Errorf("CheckSecret() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJWT(t *testing.T) {
	token, err := GenerateJWT("moodle.example.org", true, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if claims.Subject != "moodle.example.org" || !claims.Admin {
		t.Errorf("ValidateJWT() claims = %+v", claims)
	}

	if _, err := ValidateJWT(token, "other-secret"); err == nil {
		t.Error("ValidateJWT() accepted a token signed with another secret")
	}

	expired, err := GenerateJWT("host", false, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	if _, err := ValidateJWT(expired, "secret"); err == nil {
		t.Error("ValidateJWT() accepted an expired token")
	}

	if _, err := ValidateJWT("garbage", "secret"); err == nil {
		t.Error("ValidateJWT() accepted garbage")
	}
}

func TestComputeSHA256(t *testing.T) {
	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	sum, n, err := ComputeSHA256FromReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("ComputeSHA256FromReader() error = %v", err)
	}
	if sum != want || n != 5 {
		t.Errorf("ComputeSHA256FromReader() = %s, %d", sum, n)
	}

	path := filepath.Join(t.TempDir(), "upload.zip")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	sum, n, err = ComputeSHA256File(path)
	if err != nil {
		t.Fatalf("ComputeSHA256File() error = %v", err)
	}
	if sum != want || n != 5 {
		t.Errorf("ComputeSHA256File() = %s, %d", sum, n)
	}

	if _, _, err := ComputeSHA256File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ComputeSHA256File() expected error for missing file")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{
			name:  "bytes",
			bytes: 512,
			want:  "512 B",
		},
		{
			name:  "kilobytes",
			bytes: 1536, // 1.5 KB
			want:  "1.5 KB",
		},
		{
			name:  "megabytes",
			bytes: 1048576, // 1 MB
			want:  "1.0 MB",
		},
		{
			name:  "zero bytes",
			bytes: 0,
			want:  "0 B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes() = %v, want %v", got, tt.want)
			}
		})
	}
}
