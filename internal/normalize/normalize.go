// Package normalize implements the Normalizer: a pure, deterministic,
// idempotent canonicalization of chunk text prior to hashing and storage,
// grounded on the teacher's whitespace-collapsing Preprocess step.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Result is the canonical form of a chunk plus its content hash.
type Result struct {
	// Content is the canonicalized text, case preserved, suitable for
	// display and storage.
	Content string
	// ContentHash is H(canonical-for-hashing), a 256-bit digest in hex.
	ContentHash string
}

var (
	horizontalWS = regexp.MustCompile(`[\t\x0b\x0c\r ]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// SynonymTable maps aliases to their canonical spelling, applied
// case-insensitively as whole-word matches.
type SynonymTable map[string]string

// DefaultSynonyms is a small seed table; deployments extend it via
// configuration loaded elsewhere.
var DefaultSynonyms = SynonymTable{
	"toeic": "TOEIC",
}

// DateResolver resolves a relative date expression ("tomorrow", "next
// Tuesday") against a reference clock into an ISO-8601 date, returning
// ok=false when the expression is not recognized.
type DateResolver func(expr string, ref time.Time) (iso string, ok bool)

// Options configures one normalization call.
type Options struct {
	// ReferenceTime is the ingest's reference clock for relative date
	// resolution.
	ReferenceTime time.Time
	Synonyms      SynonymTable
	ResolveDate   DateResolver
	// SubjectToken is prepended to subjectless chunks (e.g. "the user").
	SubjectToken string
}

// Normalize canonicalizes raw chunk text. It is deterministic and
// idempotent: Normalize(Normalize(x).Content) == Normalize(x).
func Normalize(raw string, opts Options) Result {
	canonical := canonicalize(raw, opts)
	return Result{
		Content:     canonical,
		ContentHash: hashFor(canonical),
	}
}

func canonicalize(raw string, opts Options) string {
	s := norm.NFKC.String(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalWS.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	s = applySynonyms(s, opts.Synonyms)

	if opts.ResolveDate != nil {
		s = resolveDates(s, opts.ReferenceTime, opts.ResolveDate)
	}

	if opts.SubjectToken != "" && isSubjectless(s) {
		s = opts.SubjectToken + " " + lowerFirstIfNotAcronym(s)
	}

	return s
}

// hashFor lowercases ASCII letters before hashing only — the canonical
// Content returned to callers keeps its original casing.
func hashFor(canonical string) string {
	lowered := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return unicode.ToLower(r)
		}
		return r
	}, canonical)
	h := sha256.Sum256([]byte(lowered))
	return hex.EncodeToString(h[:])
}

func applySynonyms(s string, table SynonymTable) string {
	if len(table) == 0 {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		trimmed := strings.Trim(w, ".,!?;:\"'")
		if canon, ok := table[strings.ToLower(trimmed)]; ok {
			words[i] = strings.Replace(w, trimmed, canon, 1)
		}
	}
	return strings.Join(words, " ")
}

var dateExprRe = regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|next \w+|last \w+)\b`)

func resolveDates(s string, ref time.Time, resolve DateResolver) string {
	return dateExprRe.ReplaceAllStringFunc(s, func(match string) string {
		if iso, ok := resolve(match, ref); ok {
			return iso
		}
		return match
	})
}

// isSubjectless is a heuristic: any non-empty chunk that does not start
// (case-insensitively) with one of pronounPrefixes is treated as needing a
// completed subject, e.g. "went to the store". Leading proper nouns are not
// recognized as subjects.
var pronounPrefixes = []string{"i ", "i'", "you ", "he ", "she ", "it ", "we ", "they ", "the ", "a ", "an "}

func isSubjectless(s string) bool {
	low := strings.ToLower(s)
	for _, p := range pronounPrefixes {
		if strings.HasPrefix(low, p) {
			return false
		}
	}
	return s != ""
}

func lowerFirstIfNotAcronym(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if len(r) > 1 && unicode.IsUpper(r[0]) && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
