package auth

import (
	"crypto/rand"
	"errors"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
)

var (
	ErrEmptyPassword   = errors.New("empty password")
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

const saltAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// HashPassword returns a "$6$salt$hash" SHA-512 crypt string suitable for /etc/shadow.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt, err := newSalt(16)
	if err != nil {
		return "", err
	}
	return sha512_crypt.New().Generate([]byte(password), []byte("$6$"+salt))
}

// IsHashed reports whether s already looks like a crypt(3) string, so a
// pre-hashed USER_PASSWORD can be stored verbatim.
func IsHashed(s string) bool {
	for _, p := range []string{"$1$", "$5$", "$6$", "$y$", "$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// VerifyPassword checks password against a $1$, $5$ or $6$ hash.
func VerifyPassword(hash, password string) (bool, error) {
	var crypters []crypt.Crypter
	crypters = append(crypters, sha512_crypt.New())
	crypters = append(crypters, sha256_crypt.New())
	crypters = append(crypters, md5_crypt.New())

	for _, c := range crypters {
		if err := c.Verify(hash, []byte(password)); err == nil {
			return true, nil
		}
	}

	// yescrypt ($y$), scrypt ($7$) and bcrypt ($2*) are not handled here.
	if strings.HasPrefix(hash, "$y$") || strings.HasPrefix(hash, "$7$") || strings.HasPrefix(hash, "$2") {
		return false, ErrUnsupportedHash
	}
	return false, nil
}

func newSalt(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = saltAlphabet[int(b[i])%len(saltAlphabet)]
	}
	return string(b), nil
}
