package schema

// Next is the routing half of a node's result: exactly one of Goto, FanOut
// or Terminal, or the zero value to follow the node's static edge.
type Next struct {
	Goto     string   `json:"goto,omitempty"`
	FanOut   []string `json:"fan_out,omitempty"`
	Terminal bool     `json:"terminal,omitempty"`
}

// IsZero reports whether the routing decision defers to the static edge.
func (n Next) IsZero() bool {
	return n.Goto == "" && len(n.FanOut) == 0 && !n.Terminal
}

// Targets returns the explicit target set of the routing decision.
func (n Next) Targets() []string {
	if n.Goto != "" {
		return []string{n.Goto}
	}
	return n.FanOut
}

// Command is a node's combined result: a state patch plus a routing
// decision. Edges are chosen at runtime by the returned Next, not fixed at
// graph construction.
type Command struct {
	Patch Patch `json:"patch"`
	Next  Next  `json:"next"`
}

// Goto builds a command routing to a single node.
func Goto(node string, patch Patch) Command {
	return Command{Patch: patch, Next: Next{Goto: node}}
}

// FanOut builds a command routing to several nodes concurrently. Branch
// patches are later merged in the declared target order.
func FanOut(patch Patch, nodes ...string) Command {
	return Command{Patch: patch, Next: Next{FanOut: nodes}}
}

// Terminal builds a command ending the graph (or sub-graph) run.
func Terminal(patch Patch) Command {
	return Command{Patch: patch, Next: Next{Terminal: true}}
}

// Continue builds a command following the statically declared next edge.
func Continue(patch Patch) Command {
	return Command{Patch: patch}
}
