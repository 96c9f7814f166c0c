// Package filter matches load-request names against declarative rules.
//
// A request can be expressed three ways and every Filter answers all of them:
// a dotted name ("acme.util.Strings"), a slash separated resource path
// ("acme/util/strings.txt"), or a bare package ("acme.util").
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Kind identifies the matching rule of a Filter.
type Kind int

const (
	KindNothing Kind = iota
	KindEverything
	KindNames
	KindPackages
	KindRecursive
	KindNot
	KindAny
	KindPredicate
)

func (k Kind) String() string {
	switch k {
	case KindNothing:
		return "nothing"
	case KindEverything:
		return "everything"
	case KindNames:
		return "names"
	case KindPackages:
		return "packages"
	case KindRecursive:
		return "recursive"
	case KindNot:
		return "not"
	case KindAny:
		return "any"
	case KindPredicate:
		return "predicate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Filter is a closed set of matching rules. The zero Filter matches nothing.
type Filter struct {
	kind     Kind
	exact    sets.Set[string]
	patterns []glob.Glob
	raw      []string
	children []Filter
	pred     func(pkg string) bool
}

// Everything matches every request.
func Everything() Filter { return Filter{kind: KindEverything} }

// Nothing matches no request.
func Nothing() Filter { return Filter{kind: KindNothing} }

// Names matches full dotted names. Entries may contain '*' wildcards.
func Names(names ...string) (Filter, error) {
	return newSet(KindNames, names)
}

// Packages matches requests whose package is one of pkgs. Entries may contain
// '*' wildcards.
func Packages(pkgs ...string) (Filter, error) {
	return newSet(KindPackages, pkgs)
}

// MustPackages is like Packages but panics on a malformed pattern.
func MustPackages(pkgs ...string) Filter {
	f, err := Packages(pkgs...)
	if err != nil {
		panic(err)
	}
	return f
}

// Recursive matches requests whose package is one of roots or nested below one.
func Recursive(roots ...string) Filter {
	return Filter{kind: KindRecursive, exact: sets.New(roots...), raw: sorted(roots)}
}

// Not inverts f.
func Not(f Filter) Filter {
	return Filter{kind: KindNot, children: []Filter{f}}
}

// Any matches when at least one of fs matches.
func Any(fs ...Filter) Filter {
	return Filter{kind: KindAny, children: append([]Filter(nil), fs...)}
}

// Func matches packages accepted by pred.
func Func(pred func(pkg string) bool) Filter {
	return Filter{kind: KindPredicate, pred: pred}
}

func newSet(kind Kind, entries []string) (Filter, error) {
	f := Filter{kind: kind, exact: sets.New[string](), raw: sorted(entries)}
	for _, e := range entries {
		if !IsPattern(e) {
			f.exact.Insert(e)
			continue
		}
		g, err := glob.Compile(e)
		if err != nil {
			return Filter{}, fmt.Errorf("filter: compile pattern %q: %w", e, err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// Kind returns the rule kind.
func (f Filter) Kind() Kind { return f.kind }

// IsNothing reports whether f is the Nothing rule.
func (f Filter) IsNothing() bool { return f.kind == KindNothing }

// IsEverything reports whether f is the Everything rule.
func (f Filter) IsEverything() bool { return f.kind == KindEverything }

// MatchesName matches a dotted name.
func (f Filter) MatchesName(name string) bool {
	switch f.kind {
	case KindNames:
		return f.matchSet(name)
	case KindNot:
		return !f.children[0].MatchesName(name)
	case KindAny:
		for _, c := range f.children {
			if c.MatchesName(name) {
				return true
			}
		}
		return false
	default:
		return f.MatchesPackage(PackageOfName(name))
	}
}

// MatchesResourcePath matches a slash separated resource path.
func (f Filter) MatchesResourcePath(path string) bool {
	switch f.kind {
	case KindNames:
		return f.matchSet(NameOfPath(path))
	case KindNot:
		return !f.children[0].MatchesResourcePath(path)
	case KindAny:
		for _, c := range f.children {
			if c.MatchesResourcePath(path) {
				return true
			}
		}
		return false
	default:
		return f.MatchesPackage(PackageOfPath(path))
	}
}

// MatchesPackage matches a bare package name.
func (f Filter) MatchesPackage(pkg string) bool {
	switch f.kind {
	case KindNothing:
		return false
	case KindEverything:
		return true
	case KindNames:
		return false
	case KindPackages:
		return f.matchSet(pkg)
	case KindRecursive:
		for root := range f.exact {
			if pkg == root || strings.HasPrefix(pkg, root+".") {
				return true
			}
		}
		return false
	case KindNot:
		return !f.children[0].MatchesPackage(pkg)
	case KindAny:
		for _, c := range f.children {
			if c.MatchesPackage(pkg) {
				return true
			}
		}
		return false
	case KindPredicate:
		return f.pred != nil && f.pred(pkg)
	default:
		return false
	}
}

func (f Filter) matchSet(s string) bool {
	if f.exact.Has(s) {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	switch f.kind {
	case KindNames, KindPackages, KindRecursive:
		return fmt.Sprintf("%s%v", f.kind, f.raw)
	case KindNot:
		return "not(" + f.children[0].String() + ")"
	case KindAny:
		parts := make([]string, 0, len(f.children))
		for _, c := range f.children {
			parts = append(parts, c.String())
		}
		return "any(" + strings.Join(parts, ",") + ")"
	default:
		return f.kind.String()
	}
}
