package normalize

import "testing"

func TestNormalize_Idempotent(t *testing.T) {
	raw := "  I   live   in   Tokyo.  \n\n\n\nNext line.  "
	once := Normalize(raw, Options{})
	twice := Normalize(once.Content, Options{})
	if once.Content != twice.Content {
		t.Fatalf("not idempotent: %q vs %q", once.Content, twice.Content)
	}
	if once.ContentHash != twice.ContentHash {
		t.Fatalf("hash not stable across renormalization")
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := "I live in Tokyo."
	a := Normalize(raw, Options{})
	b := Normalize(raw, Options{})
	if a.ContentHash != b.ContentHash {
		t.Fatalf("expected deterministic hash, got %q vs %q", a.ContentHash, b.ContentHash)
	}
}

func TestNormalize_CaseFoldedHashOnly(t *testing.T) {
	lower := Normalize("i live in tokyo.", Options{})
	upper := Normalize("I LIVE IN TOKYO.", Options{})
	if lower.ContentHash != upper.ContentHash {
		t.Fatalf("expected case-insensitive hash, got %q vs %q", lower.ContentHash, upper.ContentHash)
	}
	if upper.Content != "I LIVE IN TOKYO." {
		t.Fatalf("expected original casing preserved in content, got %q", upper.Content)
	}
}

func TestNormalize_SynonymMapping(t *testing.T) {
	out := Normalize("Studying for the Toeic exam", Options{Synonyms: SynonymTable{"toeic": "TOEIC"}})
	if out.Content != "Studying for the TOEIC exam" {
		t.Fatalf("synonym not applied, got %q", out.Content)
	}
}

func TestNormalize_WhitespaceCollapse(t *testing.T) {
	out := Normalize("a\t\tb   c\r\n\r\n\r\nd", Options{})
	if out.Content != "a b c\n\nd" {
		t.Fatalf("whitespace not collapsed, got %q", out.Content)
	}
}
