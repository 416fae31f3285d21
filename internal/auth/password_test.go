package auth

import "testing"

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse 1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword(hash, "correct horse 1") {
		t.Error("correct password rejected")
	}
	if VerifyPassword(hash, "wrong horse 1") {
		t.Error("wrong password accepted")
	}
}

func TestPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"short1", true},           // too short
		{"onlyletters", true},      // no digit
		{"12345678901", true},      // no letter
		{"goodpass1", false},
		{"Another2Pass", false},
	}
	for _, tt := range tests {
		err := ValidatePasswordStrength(tt.password, 8)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePasswordStrength(%q) err = %v, wantErr %v", tt.password, err, tt.wantErr)
		}
	}
}
