package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	generatedLength = 30
	letters         = "abcdefghijklmnopqrstuvwxyz"
	digits          = "0123456789"
	alphanumerics   = letters + digits
)

// GenerateSchemaName returns a random name that every engine accepts as an
// unquoted identifier: alphanumeric, starting with a letter.
func GenerateSchemaName() (string, error) {
	return generate(letters, alphanumerics)
}

// GeneratePassword returns a random alphanumeric password starting with a
// letter and containing at least one letter and one digit.
func GeneratePassword() (string, error) {
	rest, err := randomString(alphanumerics, generatedLength-2)
	if err != nil {
		return "", err
	}
	return "a1" + rest, nil
}

func generate(first, rest string) (string, error) {
	head, err := randomString(first, 1)
	if err != nil {
		return "", err
	}
	tail, err := randomString(rest, generatedLength-1)
	if err != nil {
		return "", err
	}
	return head + tail, nil
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
