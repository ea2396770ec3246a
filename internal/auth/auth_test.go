package auth

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatalf("Expected hash to differ from plaintext")
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Errorf("Expected matching password to verify")
	}
	if CheckPassword(hash, "wrong password") {
		t.Errorf("Expected wrong password to fail")
	}
}

func TestTokens(t *testing.T) {
	plain, digest := NewToken()
	if plain == "" || digest == "" {
		t.Fatalf("Expected non-empty token and digest")
	}
	if plain == digest {
		t.Errorf("Expected digest to differ from plaintext")
	}
	if HashToken(plain) != digest {
		t.Errorf("Expected digest to be the hash of the plaintext")
	}

	otherPlain, otherDigest := NewToken()
	if otherPlain == plain || otherDigest == digest {
		t.Errorf("Expected each token to be unique")
	}
}
