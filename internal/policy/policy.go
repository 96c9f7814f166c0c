// Package policy decides when a domain defers to its parent domain.
package policy

import (
	"fmt"

	"github.com/anvil-platform/loadspace/internal/filter"
)

// ParentPolicy is an ordered pair of filters. Requests matched by Before are
// sent to the parent ahead of local units; requests not found locally and
// matched by After are sent to the parent afterwards.
type ParentPolicy struct {
	Before filter.Filter
	After  filter.Filter
	Name   string
}

// Before is classic parent-first delegation.
func Before() ParentPolicy {
	return ParentPolicy{Before: filter.Everything(), After: filter.Nothing(), Name: "before"}
}

// After is parent-last delegation.
func After() ParentPolicy {
	return ParentPolicy{Before: filter.Nothing(), After: filter.Everything(), Name: "after"}
}

// BeforeButOnly consults the parent first, and only for the reserved namespace.
func BeforeButOnly(reserved filter.Filter) ParentPolicy {
	return ParentPolicy{Before: reserved, After: filter.Nothing(), Name: "before-but-reserved-only"}
}

// AfterButBefore is parent-last, except the reserved namespace always goes to
// the parent first.
func AfterButBefore(reserved filter.Filter) ParentPolicy {
	return ParentPolicy{Before: reserved, After: filter.Not(reserved), Name: "after-but-reserved-before"}
}

// ParentFirst reports the orientation used to order candidates that come from
// the whole domain chain rather than a single request: a policy that never
// consults the parent afterwards is parent-first.
func (p ParentPolicy) ParentFirst() bool {
	return p.After.IsNothing()
}

func (p ParentPolicy) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("before=%s after=%s", p.Before, p.After)
}

// Parse returns a preset by name.
func Parse(name string, reserved filter.Filter) (ParentPolicy, error) {
	switch name {
	case "", "before":
		return Before(), nil
	case "after":
		return After(), nil
	case "before-but-reserved-only":
		return BeforeButOnly(reserved), nil
	case "after-but-reserved-before":
		return AfterButBefore(reserved), nil
	default:
		return ParentPolicy{}, fmt.Errorf("policy: unknown parent policy %q", name)
	}
}
