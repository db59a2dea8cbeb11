// Package auth - licensekey.go generates organization license keys of the form
// PREFIX-XXXX-XXXX-XXXX and the masked hints shown wherever the full key must not be.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

const (
	// keyAlphabet omits characters that are easy to misread: 0/O, 1/I/L
	keyAlphabet  = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	prefixLength = 4
	groupLength  = 4
	groupCount   = 3
	maskGroup    = "••••"
)

// ErrMalformedKey is returned by ParseKey for input that is not shaped like a license key
var ErrMalformedKey = errors.New("malformed license key")

// LicenseKeyGenerator creates license keys
type LicenseKeyGenerator struct {
	fallbackPrefix string
}

// NewLicenseKeyGenerator creates a generator. fallbackPrefix is used when neither the
// organization name nor its id yields any alphanumerics.
func NewLicenseKeyGenerator(fallbackPrefix string) *LicenseKeyGenerator {
	p := alnumUpper(fallbackPrefix)
	if p == "" {
		p = "ORGX"
	}
	return &LicenseKeyGenerator{fallbackPrefix: pad(p)}
}

// Generate returns a fresh key for the organization. The prefix is taken from the name's
// first four alphanumerics, then the id's, padded with X.
func (g *LicenseKeyGenerator) Generate(orgName, orgID string) (string, error) {
	prefix := alnumUpper(orgName)
	if prefix == "" {
		prefix = alnumUpper(orgID)
	}
	if prefix == "" {
		prefix = g.fallbackPrefix
	}

	parts := []string{pad(prefix)}
	for i := 0; i < groupCount; i++ {
		group, err := randomGroup()
		if err != nil {
			return "", fmt.Errorf("failed to generate license key: %w", err)
		}
		parts = append(parts, group)
	}
	return strings.Join(parts, "-"), nil
}

// MaskKey returns the display hint for key: the prefix and the last group, with the middle
// groups masked.
func MaskKey(key string) string {
	parts := strings.Split(key, "-")
	if len(parts) != groupCount+1 {
		return maskGroup
	}
	masked := []string{parts[0]}
	for i := 1; i < len(parts)-1; i++ {
		masked = append(masked, maskGroup)
	}
	masked = append(masked, parts[len(parts)-1])
	return strings.Join(masked, "-")
}

// ParseKey normalizes presented key input: it trims whitespace, uppercases, and checks
// the group layout.
func ParseKey(input string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(input))
	parts := strings.Split(key, "-")
	if len(parts) != groupCount+1 {
		return "", ErrMalformedKey
	}
	for _, p := range parts {
		if len(p) != groupLength {
			return "", ErrMalformedKey
		}
		for _, r := range p {
			if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
				return "", ErrMalformedKey
			}
		}
	}
	return key, nil
}

func randomGroup() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < groupLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func alnumUpper(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == prefixLength {
			break
		}
	}
	return b.String()
}

func pad(prefix string) string {
	if len(prefix) >= prefixLength {
		return prefix[:prefixLength]
	}
	return prefix + strings.Repeat("X", prefixLength-len(prefix))
}
