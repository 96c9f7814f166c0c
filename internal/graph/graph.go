// Package graph snapshots the registry's bindings as a dependency graph.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anvil-platform/loadspace/internal/resolver"
)

type UnitNode struct {
	Unit    string `json:"unit"`
	Version string `json:"version"`
	Domain  string `json:"domain"`
	State   string `json:"state"`
	// Space is 0 for units outside any space.
	Space        int  `json:"space,omitempty"`
	NeedsRefresh bool `json:"needsRefresh,omitempty"`
}

// Edge points from a requiring unit to the unit serving the requirement.
// Wildcard edges exist for candidates the requirement has actually used.
type Edge struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Requirement string `json:"requirement"`
	Wildcard    bool   `json:"wildcard,omitempty"`
}

type DependencyGraph struct {
	Units []UnitNode `json:"units"`
	Edges []Edge     `json:"edges"`
	// Unbound lists requirements with no provider, as "unit: requirement".
	Unbound []string `json:"unbound,omitempty"`
}

// Build snapshots reg. Bindings may change while it runs; each edge reflects
// the state at the moment it was read.
func Build(reg *resolver.Registry) DependencyGraph {
	var g DependencyGraph
	for _, u := range reg.Units() {
		node := UnitNode{
			Unit:         u.Name(),
			Version:      u.Version().String(),
			Domain:       u.Domain().Name(),
			State:        u.State().String(),
			NeedsRefresh: u.NeedsRefresh(),
		}
		if sp, ok := reg.SpaceOf(u); ok {
			node.Space = int(sp.ID())
		}
		g.Units = append(g.Units, node)

		for _, it := range u.Items() {
			req := it.Requirement()
			if req.IsWildcard() {
				b := it.Wildcard()
				if b == nil {
					g.Unbound = append(g.Unbound, u.Name()+": "+req.String())
					continue
				}
				for _, p := range b.Used() {
					g.Edges = append(g.Edges, Edge{From: u.Name(), To: p.Name(), Requirement: req.String(), Wildcard: true})
				}
				continue
			}
			if t := it.Target(); t != nil {
				g.Edges = append(g.Edges, Edge{From: u.Name(), To: t.Name(), Requirement: req.String()})
			} else {
				g.Unbound = append(g.Unbound, u.Name()+": "+req.String())
			}
		}
	}
	sort.Slice(g.Units, func(i, j int) bool { return g.Units[i].Unit < g.Units[j].Unit })
	sort.SliceStable(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	sort.Strings(g.Unbound)
	return g
}

// DOT renders g in Graphviz syntax, clustering units by domain.
func (g DependencyGraph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph loadspace {\n")
	byDomain := map[string][]UnitNode{}
	var domains []string
	for _, n := range g.Units {
		if _, ok := byDomain[n.Domain]; !ok {
			domains = append(domains, n.Domain)
		}
		byDomain[n.Domain] = append(byDomain[n.Domain], n)
	}
	sort.Strings(domains)
	for i, d := range domains {
		fmt.Fprintf(&b, "  subgraph cluster_%d {\n    label=%q;\n", i, d)
		for _, n := range byDomain[d] {
			style := ""
			if n.State == resolver.StateUnresolved.String() {
				style = ", style=dashed"
			}
			fmt.Fprintf(&b, "    %q [label=%q%s];\n", n.Unit, n.Unit+"@"+n.Version, style)
		}
		b.WriteString("  }\n")
	}
	for _, e := range g.Edges {
		style := ""
		if e.Wildcard {
			style = ", style=dotted"
		}
		fmt.Fprintf(&b, "  %q -> %q [label=%q%s];\n", e.From, e.To, e.Requirement, style)
	}
	b.WriteString("}\n")
	return b.String()
}
