package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Burned on the account-not-found branch of Authenticate so that branch
// costs a bcrypt compare, same as a real password mismatch.
var dummyPasswordHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// verifyPassword never fails loudly: a malformed hash verifies as false.
func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
