package discovery

import "testing"

func TestSanitizeIdentifierPreservesLeadingAndTrailingUnderscores(t *testing.T) {
	got := sanitizeIdentifier("_private_tool_")
	if got != "_private_tool_" {
		t.Fatalf("expected leading/trailing underscores to survive sanitization, got %q", got)
	}
}

func TestSanitizeIdentifierCollapsesNonIdentRuns(t *testing.T) {
	got := sanitizeIdentifier("search-repos!!v2")
	if got != "search_repos_v2" {
		t.Fatalf("expected collapsed identifier, got %q", got)
	}
}

func TestSanitizeIdentifierPrefixesLeadingDigit(t *testing.T) {
	got := sanitizeIdentifier("123tool")
	if got != "_123tool" {
		t.Fatalf("expected leading-digit tool name to be prefixed, got %q", got)
	}
}

func TestSanitizeIdentifierFallsBackToToolWhenEmpty(t *testing.T) {
	got := sanitizeIdentifier("")
	if got != "tool" {
		t.Fatalf("expected empty sanitized result to fall back to \"tool\", got %q", got)
	}
}

func TestSanitizeIdentifierEscapesPythonKeywords(t *testing.T) {
	cases := map[string]string{
		"class":  "class_",
		"import": "import_",
		"return": "return_",
		"Class":  "class_",
	}
	for in, want := range cases {
		if got := sanitizeIdentifier(in); got != want {
			t.Fatalf("sanitizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeIdentifierLeavesNonKeywordsAlone(t *testing.T) {
	got := sanitizeIdentifier("classify")
	if got != "classify" {
		t.Fatalf("expected non-keyword tool name to pass through unchanged, got %q", got)
	}
}

func TestAliasAssignerResolvesLeadingUnderscoreCollisions(t *testing.T) {
	a := newAliasAssigner()
	first := a.assign("_private_tool")
	second := a.assign("_private_tool")
	if first != "_private_tool" {
		t.Fatalf("expected first alias to preserve leading underscore, got %q", first)
	}
	if second != "_private_tool_2" {
		t.Fatalf("expected collision-suffixed alias, got %q", second)
	}
}
