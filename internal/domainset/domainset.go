// Package domainset holds the canonical blocklist representation shared by
// every downstream target: a set of trimmed, non-empty domain strings.
package domainset

import (
	"bytes"
	"sort"
	"strings"
)

// Set is an unordered collection of unique domains.
// Domains are compared by exact string equality; no case folding is applied.
type Set map[string]struct{}

// New returns a Set holding the given domains after normalization.
// Blank entries are dropped.
func New(domains ...string) Set {
	s := make(Set, len(domains))
	for _, d := range domains {
		s.Add(d)
	}
	return s
}

// Parse turns a newline-delimited blob into a Set.
// Each line is trimmed; blank lines are discarded and duplicates collapse.
// Carriage returns left by CRLF files are removed by the trim.
// Lines of any length are kept whole.
func Parse(data []byte) Set {
	s := make(Set)
	for _, line := range bytes.Split(data, []byte("\n")) {
		s.Add(string(line))
	}
	return s
}

// ParseString is Parse for string input.
func ParseString(text string) Set {
	s := make(Set)
	for _, line := range strings.Split(text, "\n") {
		s.Add(line)
	}
	return s
}

// Add inserts a domain after trimming. Reports whether the domain was added.
func (s Set) Add(domain string) bool {
	d := strings.TrimSpace(domain)
	if d == "" {
		return false
	}
	if _, ok := s[d]; ok {
		return false
	}
	s[d] = struct{}{}
	return true
}

// Has reports whether the domain is in the set.
func (s Set) Has(domain string) bool {
	_, ok := s[domain]
	return ok
}

// Len returns the number of domains.
func (s Set) Len() int {
	return len(s)
}

// Minus returns the domains in s that are not in other.
func (s Set) Minus(other Set) Set {
	out := make(Set)
	for d := range s {
		if _, ok := other[d]; !ok {
			out[d] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets hold exactly the same domains.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for d := range s {
		if _, ok := other[d]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for d := range s {
		out[d] = struct{}{}
	}
	return out
}

// Sorted returns the domains in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Diff is the change set that brings a current set in line with a desired one.
type Diff struct {
	// ToAdd holds domains present in desired but missing from current.
	ToAdd Set

	// ToRemove holds domains present in current but not in desired.
	ToRemove Set
}

// Compare computes the symmetric difference between desired and current.
// ToAdd and ToRemove are always disjoint.
func Compare(desired, current Set) Diff {
	return Diff{
		ToAdd:    desired.Minus(current),
		ToRemove: current.Minus(desired),
	}
}

// HasChanges returns true if anything must be added or removed.
func (d Diff) HasChanges() bool {
	return len(d.ToAdd) > 0 || len(d.ToRemove) > 0
}

// Apply returns current with the diff applied.
func (d Diff) Apply(current Set) Set {
	out := current.Clone()
	for dom := range d.ToAdd {
		out[dom] = struct{}{}
	}
	for dom := range d.ToRemove {
		delete(out, dom)
	}
	return out
}
