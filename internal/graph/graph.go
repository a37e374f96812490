// Package graph implements the durable workflow engine: a registry of named
// nodes whose edges are chosen at runtime by the commands nodes return,
// executed in supersteps with an all-or-nothing fan-in barrier, retried per
// policy, checkpointed after every superstep, and suspendable for external
// input.
package graph

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/droverhq/drover/pkg/schema"
)

// NodeFunc is a unit of work: read-only state in, patch + routing out.
// Side effects on external collaborators happen only here.
type NodeFunc func(ctx context.Context, s *schema.State) (schema.Command, error)

// node is a registered node with its static fallback edges.
type node struct {
	id    string
	fn    NodeFunc
	retry *schema.RetryPolicy
	edges []edge
}

// edge is a statically declared successor, optionally guarded by a compiled
// predicate over the state environment. Guards are evaluated in declaration
// order; the first match wins. An unguarded edge always matches.
type edge struct {
	to    string
	guard *vm.Program
}

// Graph is an immutable node registry built once at startup.
type Graph struct {
	nodes map[string]*node
	entry string
}

// Builder assembles a Graph.
type Builder struct {
	g    *Graph
	errs []error
}

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{g: &Graph{nodes: make(map[string]*node)}}
}

// AddNode registers a node handler under the given ID.
func (b *Builder) AddNode(id string, fn NodeFunc) *Builder {
	if _, dup := b.g.nodes[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", id))
		return b
	}
	b.g.nodes[id] = &node{id: id, fn: fn}
	return b
}

// WithRetry overrides the engine default retry policy for one node.
// Used for nodes whose side effects are not idempotent.
func (b *Builder) WithRetry(id string, policy schema.RetryPolicy) *Builder {
	n, ok := b.g.nodes[id]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("retry policy for unknown node %q", id))
		return b
	}
	n.retry = &policy
	return b
}

// AddEdge declares the static successor used when a node's command defers
// routing (Next is zero).
func (b *Builder) AddEdge(from, to string) *Builder {
	return b.addEdge(from, to, nil)
}

// AddGuardedEdge declares a conditional static successor. The predicate is
// an expr program over the environment built by StateEnv.
func (b *Builder) AddGuardedEdge(from, predicate, to string) *Builder {
	prog, err := expr.Compile(predicate, expr.Env(StateEnv(&schema.State{})), expr.AsBool())
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("edge %s -> %s: compile %q: %w", from, to, predicate, err))
		return b
	}
	return b.addEdge(from, to, prog)
}

func (b *Builder) addEdge(from, to string, guard *vm.Program) *Builder {
	n, ok := b.g.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("edge from unknown node %q", from))
		return b
	}
	n.edges = append(n.edges, edge{to: to, guard: guard})
	return b
}

// SetEntry designates the node every run starts from.
func (b *Builder) SetEntry(id string) *Builder {
	b.g.entry = id
	return b
}

// Build validates the graph and returns it.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "invalid graph: %v", b.errs[0]).WithCause(b.errs[0])
	}
	if b.g.entry == "" {
		return nil, schema.NewError(schema.ErrCodeGraph, "graph has no entry node")
	}
	if _, ok := b.g.nodes[b.g.entry]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "entry node %q not registered", b.g.entry)
	}
	for _, n := range b.g.nodes {
		for _, e := range n.edges {
			if _, ok := b.g.nodes[e.to]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeGraph, "edge %s -> %s references unknown node", n.id, e.to)
			}
		}
	}
	return b.g, nil
}

// Entry returns the entry node ID.
func (g *Graph) Entry() string { return g.entry }

// Has reports whether a node is registered.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// StateEnv builds the expr environment for edge guards.
func StateEnv(s *schema.State) map[string]any {
	currentOrder := 0
	if cur := s.CurrentStage(); cur != nil {
		currentOrder = cur.Order
	}
	return map[string]any{
		"objective":     s.Objective,
		"current_stage": currentOrder,
		"all_complete":  currentOrder == 0 && len(s.Stages) > 0,
		"stage_count":   len(s.Stages),
	}
}

// resolveNext maps a node's command onto the successor set. A zero Next
// falls back to the node's static edges.
func (g *Graph) resolveNext(n *node, cmd schema.Command, s *schema.State) ([]string, bool, error) {
	if cmd.Next.Terminal {
		return nil, true, nil
	}
	if !cmd.Next.IsZero() {
		targets := cmd.Next.Targets()
		for _, t := range targets {
			if !g.Has(t) {
				return nil, false, schema.NewErrorf(schema.ErrCodeGraph, "node %q routed to unknown node %q", n.id, t).WithNode(n.id)
			}
		}
		return targets, false, nil
	}

	env := StateEnv(s)
	for _, e := range n.edges {
		if e.guard == nil {
			return []string{e.to}, false, nil
		}
		out, err := expr.Run(e.guard, env)
		if err != nil {
			return nil, false, schema.NewErrorf(schema.ErrCodeGraph, "edge guard %s -> %s: %s", n.id, e.to, err.Error()).WithCause(err)
		}
		if out.(bool) {
			return []string{e.to}, false, nil
		}
	}
	return nil, false, schema.NewErrorf(schema.ErrCodeGraph, "node %q has no routable successor", n.id).WithNode(n.id)
}
