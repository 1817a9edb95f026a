// Package keygen produces and recognises license keys.
//
// A key is the literal prefix, an underscore and the body split into dash
// separated groups of four:
//
//	KF_9A3C-...
//
// The body mixes two disjoint pools. Roughly seventy percent of the
// characters come from the digit-like pool and the rest from the
// letter-like pool, then the whole body is shuffled. The validator is
// compiled from the same pool constants so the two can never drift apart.
package keygen

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
)

const (
	// Prefix starts every key
	Prefix = "KF"

	// DigitPool supplies the majority share of every key body
	DigitPool = "13579"

	// LetterPool supplies the remainder
	LetterPool = "ACEFHKMR"

	// MinLength is the shortest body the validator accepts
	MinLength = 16

	// DefaultLength is the body length used when none is configured
	DefaultLength = 16

	groupSize = 4
)

var keyPattern = regexp.MustCompile(
	fmt.Sprintf(`^%s_[%s]{1,%d}(?:-[%s]{1,%d})*$`,
		regexp.QuoteMeta(Prefix),
		DigitPool+LetterPool, groupSize,
		DigitPool+LetterPool, groupSize),
)

// Generator draws random keys of a fixed body length.
// It is safe for concurrent use.
type Generator struct {
	length int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator for bodies of the given length.
// Lengths below MinLength are rejected because the validator would refuse
// every key such a generator emits.
func NewGenerator(length int) (*Generator, error) {
	if length < MinLength {
		return nil, fmt.Errorf("key length %d is below the minimum of %d", length, MinLength)
	}

	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed key generator: %w", err)
	}

	return &Generator{
		length: length,
		rng:    rand.New(rand.NewChaCha8(seed)),
	}, nil
}

// Length returns the body length of generated keys
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a fresh key
func (g *Generator) Generate() string {
	digits := g.length * 7 / 10
	body := make([]byte, g.length)

	g.mu.Lock()
	for i := range body {
		pool := LetterPool
		if i < digits {
			pool = DigitPool
		}
		body[i] = pool[g.rng.IntN(len(pool))]
	}
	g.rng.Shuffle(len(body), func(i, j int) {
		body[i], body[j] = body[j], body[i]
	})
	g.mu.Unlock()

	return format(body)
}

func format(body []byte) string {
	var sb strings.Builder
	sb.Grow(len(Prefix) + 1 + len(body) + len(body)/groupSize)
	sb.WriteString(Prefix)
	sb.WriteByte('_')

	for i := 0; i < len(body); i += groupSize {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := min(i+groupSize, len(body))
		sb.Write(body[i:end])
	}
	return sb.String()
}

// Validate reports whether key is grammatically a license key.
// It says nothing about whether the key exists or is still usable.
func Validate(key string) bool {
	if !keyPattern.MatchString(key) {
		return false
	}
	body := strings.ReplaceAll(key[len(Prefix)+1:], "-", "")
	return len(body) >= MinLength
}

// Mask hides all but the first two groups of a key for logging
func Mask(key string) string {
	if len(key) < 8 {
		return "****"
	}

	parts := strings.Split(key, "-")
	if len(parts) < 2 {
		return key[:8] + "****"
	}

	masked := parts[0] + "-" + parts[1]
	for i := 2; i < len(parts); i++ {
		masked += "-****"
	}
	return masked
}
