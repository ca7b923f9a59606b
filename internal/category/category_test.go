package category

import (
	"reflect"
	"testing"
)

// TestMatchKeywords verifies keyword matching is case-insensitive and
// first-match wins.
func TestMatchKeywords(t *testing.T) {
	set := NewSet([]Category{
		{Label: "llm-gateway", Keywords: []string{"gateway", "proxy"}},
		{Label: "kubernetes", Keywords: []string{"kubernetes", "pod"}},
	})

	if got := set.Match("How do I configure the LLM Gateway timeout?"); got != "llm-gateway" {
		t.Errorf("Match = %q, want llm-gateway", got)
	}
	if got := set.Match("Why is my pod stuck in Pending?"); got != "kubernetes" {
		t.Errorf("Match = %q, want kubernetes", got)
	}
}

// TestMatchPattern verifies regex categories match after keywords.
func TestMatchPattern(t *testing.T) {
	set := NewSet([]Category{
		{Label: "error-codes", Pattern: `\b[A-Z]{3}-\d{4}\b`},
	})

	if got := set.Match("I keep seeing ERR-1042 in the logs"); got != "error-codes" {
		t.Errorf("Match = %q, want error-codes", got)
	}
}

// TestMatchUnclassified verifies unmatched queries land in the
// unclassified bucket.
func TestMatchUnclassified(t *testing.T) {
	set := NewSet([]Category{
		{Label: "networking", Keywords: []string{"vpn", "dns"}},
	})

	if got := set.Match("Tell me about medieval castles"); got != Unclassified {
		t.Errorf("Match = %q, want %q", got, Unclassified)
	}
}

// TestAddReplacesLabel verifies re-adding a label replaces its matcher.
func TestAddReplacesLabel(t *testing.T) {
	set := NewSet([]Category{
		{Label: "storage", Keywords: []string{"disk"}},
	})
	set.Add(Category{Label: "storage", Keywords: []string{"volume"}})

	if got := set.Match("mount the disk"); got != Unclassified {
		t.Errorf("old keyword still matches after replace, got %q", got)
	}
	if got := set.Match("mount the volume"); got != "storage" {
		t.Errorf("Match = %q, want storage", got)
	}
	if labels := set.Labels(); len(labels) != 1 {
		t.Errorf("Expected 1 label after replace, got %v", labels)
	}
}

// TestAddBadPattern verifies a non-compiling pattern degrades to
// keyword-only matching instead of breaking the set.
func TestAddBadPattern(t *testing.T) {
	set := NewSet([]Category{
		{Label: "broken", Keywords: []string{"fallback"}, Pattern: "["},
	})

	if got := set.Match("use the fallback path"); got != "broken" {
		t.Errorf("Match = %q, want broken", got)
	}
}

// TestTerms verifies term extraction: lowercase, short words and
// stopwords dropped, longest-first, capped.
func TestTerms(t *testing.T) {
	terms := Terms("What is the Kubernetes scheduler doing with my pods?", 8)
	want := []string{"kubernetes", "scheduler", "doing", "pods"}
	if !reflect.DeepEqual(terms, want) {
		t.Errorf("Terms = %v, want %v", terms, want)
	}

	if got := Terms("a an of to", 8); len(got) != 0 {
		t.Errorf("Expected no terms from short words, got %v", got)
	}

	capped := Terms("alpha bravo charlie delta echofox golfing hotelier indigo juliett kilogram", 3)
	if len(capped) != 3 {
		t.Errorf("Expected 3 capped terms, got %v", capped)
	}
}

// TestHas verifies label membership.
func TestHas(t *testing.T) {
	set := NewSet([]Category{{Label: "observability", Keywords: []string{"metric"}}})

	if !set.Has("observability") {
		t.Error("Has(observability) = false, want true")
	}
	if set.Has("unknown") {
		t.Error("Has(unknown) = true, want false")
	}
}
