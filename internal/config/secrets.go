package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// MinAuthSecretLength is the shortest accepted HS256 signing key.
const MinAuthSecretLength = 32

// GetEnvironment returns the normalized environment name, or "" when none is set.
func GetEnvironment() string {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = os.Getenv("VIBEPHP_ENV")
	}
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = os.Getenv("ENV")
	}
	return strings.ToLower(strings.TrimSpace(env))
}

// ValidateAuthSecret enforces a strong API token signing key.
func ValidateAuthSecret(secret string) error {
	if len(secret) < MinAuthSecretLength {
		return fmt.Errorf("must be at least %d characters, got %d", MinAuthSecretLength, len(secret))
	}

	weakSecrets := []string{
		"secret",
		"changeme",
		"password",
		"example",
		"default",
		"placeholder",
		"replace-me",
		"vibephp",
	}

	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("contains weak/placeholder value %q", weak)
		}
	}

	allAlpha := true
	allDigit := true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha {
		return errors.New("must contain non-alphabetic characters for sufficient entropy")
	}
	if allDigit {
		return errors.New("must contain non-numeric characters for sufficient entropy")
	}

	if entropy := shannonEntropy(secret); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}

	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}

	return nil
}

// shannonEntropy calculates Shannon entropy in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// hasRepeatingPattern detects simple repeating patterns (e.g., "abcabc").
func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		pattern := s[:patLen]
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != pattern[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}

// GenerateSecureSecret generates a cryptographically secure random secret
func GenerateSecureSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
