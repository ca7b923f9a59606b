/*
Package category classifies queries into learning buckets.

A category is a label plus a matcher (keyword set and/or regular
expression). The set holds the statically configured categories and any
categories the insight miner proposes at runtime. Matching is first-match
over keywords, then patterns; unmatched queries belong to the
Unclassified bucket.
*/
package category

import (
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Unclassified is the label for queries no category matches.
const Unclassified = "unclassified"

// Category is a classification bucket used to group events for mining.
type Category struct {
	Label    string
	Keywords []string
	Pattern  string

	compiled *regexp.Regexp
}

// Set is a concurrency-safe collection of categories. Reads vastly
// outnumber writes (writes happen only when the miner proposes a new
// category).
type Set struct {
	mu         sync.RWMutex
	categories []Category
}

// NewSet builds a set from the given categories. Categories with
// non-compiling patterns are kept keyword-only with a warning.
func NewSet(categories []Category) *Set {
	s := &Set{}
	for _, c := range categories {
		s.Add(c)
	}
	return s
}

// Add registers a category. A category with an existing label replaces it.
func (s *Set) Add(c Category) {
	c.Label = strings.TrimSpace(c.Label)
	if c.Label == "" {
		return
	}
	for i, kw := range c.Keywords {
		c.Keywords[i] = strings.ToLower(strings.TrimSpace(kw))
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			log.Printf("Warning: category %q pattern does not compile, using keywords only: %v", c.Label, err)
		} else {
			c.compiled = re
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.categories {
		if s.categories[i].Label == c.Label {
			s.categories[i] = c
			return
		}
	}
	s.categories = append(s.categories, c)
}

// Match returns the label of the first matching category, or Unclassified.
func (s *Set) Match(text string) string {
	lower := strings.ToLower(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return c.Label
			}
		}
		if c.compiled != nil && c.compiled.MatchString(text) {
			return c.Label
		}
	}
	return Unclassified
}

// Labels returns all known labels in registration order.
func (s *Set) Labels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]string, len(s.categories))
	for i, c := range s.categories {
		labels[i] = c.Label
	}
	return labels
}

// Has reports whether a label is registered.
func (s *Set) Has(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if c.Label == label {
			return true
		}
	}
	return false
}

// stopwords excluded from term extraction.
var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "what": true,
	"when": true, "where": true, "which": true, "have": true, "does": true,
	"about": true, "would": true, "could": true, "should": true, "there": true,
	"their": true, "them": true, "then": true, "than": true, "into": true,
	"your": true, "please": true, "some": true, "will": true,
}

// Terms extracts the normalized keyword terms of a query, longest-first.
// The miner uses these to find the dominant shared term of an
// unclassified cluster when proposing a new category.
func Terms(text string, max int) []string {
	if max <= 0 {
		max = 8
	}
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-')
	})

	seen := make(map[string]bool)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 4 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}

	sort.SliceStable(terms, func(i, j int) bool {
		return len(terms[i]) > len(terms[j])
	})
	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}
