package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// OTPTTL is how long a one-time code stays valid after issue.
const OTPTTL = 10 * time.Minute

// GenerateOTP returns a 6-digit numeric code and its bcrypt hash. Only the
// hash is persisted; the code itself goes to the user's mailbox.
func GenerateOTP() (code string, hash string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", err
	}

	code = padCode(n.Int64())
	hash, err = HashPassword(code)
	if err != nil {
		return "", "", err
	}
	return code, hash, nil
}

// CheckOTP reports whether the code matches the stored hash and has not
// expired.
func CheckOTP(hash *string, expiresAt *time.Time, code string) bool {
	if hash == nil || expiresAt == nil {
		return false
	}
	if time.Now().After(*expiresAt) {
		return false
	}
	return CheckPassword(*hash, code)
}

func padCode(n int64) string {
	digits := []byte("000000")
	for i := 5; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}
