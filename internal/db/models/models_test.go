package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestUser_ResetTokenValid(t *testing.T) {
	now := time.Now()
	future := now.Add(30 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name string
		user User
		want bool
	}{
		{"no token", User{}, false},
		{"token without expiry", User{PasswordResetToken: strPtr("t")}, false},
		{"expired", User{PasswordResetToken: strPtr("t"), PasswordResetExpires: &past}, false},
		{"valid", User{PasswordResetToken: strPtr("t"), PasswordResetExpires: &future}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.ResetTokenValid(now); got != tt.want {
				t.Errorf("ResetTokenValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_DisplayName(t *testing.T) {
	if got := (&User{Email: "a@example.com"}).DisplayName(); got != "a@example.com" {
		t.Errorf("DisplayName() = %q, want email fallback", got)
	}
	if got := (&User{Email: "a@example.com", Name: strPtr("Ana")}).DisplayName(); got != "Ana" {
		t.Errorf("DisplayName() = %q, want Ana", got)
	}
}

func TestUser_JSONHidesSecrets(t *testing.T) {
	u := User{
		ID:                 "u1",
		Email:              "a@example.com",
		PasswordHash:       "$2a$10$hash",
		VerificationToken:  strPtr("verify-token"),
		PasswordResetToken: strPtr("reset-token"),
	}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"$2a$10$hash", "verify-token", "reset-token"} {
		if strings.Contains(string(b), secret) {
			t.Errorf("marshalled user contains %q: %s", secret, b)
		}
	}
}

func TestItem_HasImage(t *testing.T) {
	if (&Item{}).HasImage() {
		t.Error("HasImage() should be false without a path")
	}
	if (&Item{ImagePath: strPtr("")}).HasImage() {
		t.Error("HasImage() should be false for an empty path")
	}
	if !(&Item{ImagePath: strPtr("https://cdn/x.jpg")}).HasImage() {
		t.Error("HasImage() should be true with a path")
	}
}

func TestPublicBox_JSONHasNoOwnershipFields(t *testing.T) {
	b, err := json.Marshal(PublicBox{Name: "Tools", QRCode: "abc", Items: []PublicItem{{ID: "i1", Name: "Drill"}}})
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"storageRoom", "userId", "boxId"} {
		if strings.Contains(string(b), field) {
			t.Errorf("public box JSON exposes %q: %s", field, b)
		}
	}
}
