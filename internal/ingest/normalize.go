package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText NFC-normalizes text, strips zero-width characters, collapses
// whitespace runs to single spaces, and trims. Idempotent.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	normalized := norm.NFC.String(text)
	normalized = strings.Map(dropZeroWidth, normalized)
	return strings.Join(strings.Fields(normalized), " ")
}

func dropZeroWidth(r rune) rune {
	if r >= '\u200b' && r <= '\u200f' {
		return -1
	}
	if r == '\ufeff' {
		return -1
	}
	return r
}

// ContentHash hashes the normalized (title, author, content) tuple with
// SHA-256. Two fetches with identical normalized fields hash identically
// regardless of incidental whitespace or unicode-form differences in the raw
// markup. Empty fields still occupy their slot in the preimage so text moving
// between fields changes the digest.
func ContentHash(title, author, content string) string {
	parts := []string{
		NormalizeText(title),
		NormalizeText(author),
		NormalizeText(content),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

const snippetLimit = 500

// SanitizeSnippet escapes HTML metacharacters and truncates to 500 runes.
// For display surfaces only; never feed the result into ContentHash.
func SanitizeSnippet(text string) string {
	escaped := html.EscapeString(text)
	runes := []rune(escaped)
	if len(runes) <= snippetLimit {
		return escaped
	}
	return string(runes[:snippetLimit])
}
