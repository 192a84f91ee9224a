package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword derives the bcrypt hash stored on a store account
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(hash), err
}

// ComparePassword checks a login attempt against a store's stored hash.
// nil means the password matches.
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
