package quiz

import (
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// loginCharset is the alphabet used for generated login suffixes.
const loginCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// loginSuffixLength is the number of random characters appended to the login prefix.
const loginSuffixLength = 6

// Rand is the random source owned by a session.
//
// Both bounds are inclusive for Number. *gofakeit.Faker satisfies it, which
// lets tests pass a seeded faker for reproducible sessions.
type Rand interface {
	Number(min, max int) int
	Float64Range(min, max float64) float64
}

// NewRand returns a gofakeit-backed random source.
// A zero seed picks a fresh random seed.
func NewRand(seed uint64) Rand {
	return gofakeit.New(seed)
}

// RandomString returns n characters drawn from [a-z0-9].
func RandomString(r Rand, n int) string {
	if n <= 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(loginCharset[r.Number(0, len(loginCharset)-1)])
	}
	return sb.String()
}

// GenerateLoginName returns "<prefix>_<6 random lowercase alphanumerics>".
func GenerateLoginName(r Rand, prefix string) string {
	return prefix + "_" + RandomString(r, loginSuffixLength)
}
