package order

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/meta"
)

// DefaultPriority lists the object types restored before everything else, in rank order.
var DefaultPriority = []string{
	"User",
	"RecordType",
	"BusinessHours",
	"Organization",
	"UserRole",
	"Profile",
	"PermissionSet",
	"Group",
}

// Violation reports a dependent object scheduled before one of its dependencies.
type Violation struct {
	Object    string
	DependsOn string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s depends on %s but %s comes later", v.Object, v.DependsOn, v.DependsOn)
}

type Orderer struct {
	provider meta.Provider
	log      zerolog.Logger
	rank     map[string]int
}

func New(provider meta.Provider, log zerolog.Logger) *Orderer {
	o := &Orderer{provider: provider, log: log.With().Str("component", "orderer").Logger()}
	o.SetPriority(DefaultPriority)
	return o
}

// SetPriority replaces the priority object types. Earlier entries rank higher.
func (o *Orderer) SetPriority(types []string) {
	o.rank = make(map[string]int, len(types))
	for i, t := range types {
		if _, dup := o.rank[t]; !dup {
			o.rank[t] = i
		}
	}
}

func (o *Orderer) byRank(a, b string) bool {
	ra, rb := o.rank[a], o.rank[b]
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// Order returns every input object type exactly once, dependencies first.
// Priority types come before all others.
func (o *Orderer) Order(ctx context.Context, objects []string) []string {
	g := o.build(ctx, objects)
	priority, rest := o.split(g.nodes)

	done := map[string]bool{}
	out := g.linearize(priority, done, o.byRank)
	for _, n := range out {
		done[n] = true
	}
	out = append(out, g.linearize(rest, done, lexical)...)
	o.log.Debug().Strs("order", out).Msg("restore order computed")
	return out
}

// Waves partitions the input into groups that can be restored concurrently.
// Priority waves come first.
func (o *Orderer) Waves(ctx context.Context, objects []string) [][]string {
	g := o.build(ctx, objects)
	priority, rest := o.split(g.nodes)

	done := map[string]bool{}
	waves := g.layers(priority, done, o.byRank)
	for _, w := range waves {
		for _, n := range w {
			done[n] = true
		}
	}
	return append(waves, g.layers(rest, done, lexical)...)
}

// Validate reports every dependency that appears after its dependent in sequence.
func (o *Orderer) Validate(ctx context.Context, sequence []string) []Violation {
	g := o.build(ctx, sequence)
	pos := make(map[string]int, len(sequence))
	for i, n := range sequence {
		if _, ok := pos[n]; !ok {
			pos[n] = i
		}
	}
	var violations []Violation
	for i, n := range sequence {
		if pos[n] != i {
			continue
		}
		for _, d := range g.deps[n] {
			if pos[d] > i {
				violations = append(violations, Violation{Object: n, DependsOn: d})
			}
		}
	}
	return violations
}

// Dependencies returns the in-set required dependencies of every input object type.
func (o *Orderer) Dependencies(ctx context.Context, objects []string) map[string][]string {
	g := o.build(ctx, objects)
	out := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		out[n] = append([]string(nil), g.deps[n]...)
	}
	return out
}

// Cycles returns the groups of object types that depend on each other.
// Order within a cycle is not guaranteed.
func (o *Orderer) Cycles(ctx context.Context, objects []string) [][]string {
	return stronglyConnected(o.build(ctx, objects))
}

func (o *Orderer) split(nodes []string) (priority, rest []string) {
	for _, n := range nodes {
		if _, ok := o.rank[n]; ok {
			priority = append(priority, n)
		} else {
			rest = append(rest, n)
		}
	}
	return priority, rest
}

func (o *Orderer) build(ctx context.Context, objects []string) graph {
	set := toSet(objects)
	nodes := make([]string, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	g := graph{nodes: nodes, deps: make(map[string][]string, len(nodes))}
	for _, n := range nodes {
		md, err := o.provider.Describe(ctx, n)
		if err != nil {
			o.log.Warn().Err(err).Str("object", n).Msg("metadata unavailable; treating as no dependencies")
			continue
		}
		seen := map[string]bool{}
		for _, rel := range md.RequiredReferences() {
			for _, target := range rel.ReferenceTo {
				if target == n || !set[target] || seen[target] {
					continue
				}
				seen[target] = true
				g.deps[n] = append(g.deps[n], target)
			}
		}
		sort.Strings(g.deps[n])
	}
	return g
}
