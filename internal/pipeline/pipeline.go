package pipeline

import (
	"context"
	"fmt"

	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/pkg/schema"
)

// New assembles the full workflow graph: a bootstrap node, the stage
// router, and one sub-graph per configured stage. The router's guarded
// edges dispatch on the first incomplete stage; a completed stage's report
// node hands control back to the router.
func New(deps Deps, cfg Config) (*graph.Graph, error) {
	if deps.Agent == nil || deps.Selector == nil || deps.Validator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline requires agent, selector and validator clients")
	}
	if len(deps.Critics) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline requires at least one critic identity")
	}
	if deps.Sandbox == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline requires a sandbox")
	}
	if cfg.Stages == nil {
		cfg.Stages = DefaultStageConfigs()
	}

	p := &Pipeline{deps: deps, cfg: cfg, logger: deps.Logger}
	if p.logger == nil {
		p.logger = defaultLogger()
	}

	b := graph.NewBuilder()
	b.AddNode(NodeBootstrap, p.bootstrap()).SetEntry(NodeBootstrap)
	b.AddNode(NodeRouter, p.router())
	b.AddEdge(NodeBootstrap, NodeRouter)

	for _, sc := range cfg.Stages {
		switch sc.Order {
		case stageObjective:
			p.addObjectiveStage(b, sc)
		case stageReport:
			p.addReportStage(b, sc)
		default:
			p.addCodeStage(b, sc)
		}
	}

	// Dispatch in declared stage order; the first matching guard wins.
	for _, sc := range cfg.Stages {
		b.AddGuardedEdge(NodeRouter, fmt.Sprintf("current_stage == %d", sc.Order), stageEntry(sc))
	}

	return b.Build()
}

// staged tags the node's context with the stage name so correlated log
// lines carry it.
func staged(sc StageConfig, fn graph.NodeFunc) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		return fn(logging.WithStage(ctx, sc.Name), s)
	}
}

// stageEntry names the node a stage starts from. The objective stage has
// no sandbox session; the report stage is a single node.
func stageEntry(sc StageConfig) string {
	switch sc.Order {
	case stageObjective:
		return nodeID(sc.Order, nodeInitHistory)
	case stageReport:
		return nodeID(sc.Order, nodeFinalReport)
	default:
		return nodeID(sc.Order, nodeInitSession)
	}
}

// addCodeStage wires the full iterative sub-graph:
// init_session -> init_history -> agent -> {execute, validate_fanout,
// agent} ... validate_fanout fans out to both validators, which join at
// the rendezvous; from there materialize_artifacts -> write_report ->
// router.
func (p *Pipeline) addCodeStage(b *graph.Builder, sc StageConfig) {
	id := func(name string) string { return nodeID(sc.Order, name) }

	b.AddNode(id(nodeInitSession), staged(sc, p.initSession(sc)))
	b.AddEdge(id(nodeInitSession), id(nodeInitHistory))

	b.AddNode(id(nodeInitHistory), staged(sc, p.codeInitHistory(sc)))
	b.AddEdge(id(nodeInitHistory), id(nodeAgent))

	b.AddNode(id(nodeAgent), staged(sc, p.codeAgent(sc)))

	// Re-running a code block is not idempotent; a transport failure fails
	// the node instead of retrying.
	b.AddNode(id(nodeExecute), staged(sc, p.execute(sc)))
	b.WithRetry(id(nodeExecute), schema.RetryPolicy{MaxAttempts: 1})

	b.AddNode(id(nodeValidate), staged(sc, p.validateFanout(sc)))

	b.AddNode(id(nodeChecklist), staged(sc, p.checklistValidator(sc)))
	b.AddEdge(id(nodeChecklist), id(nodeRendezvous))

	b.AddNode(id(nodeCritic), staged(sc, p.criticValidator(sc)))
	b.AddEdge(id(nodeCritic), id(nodeRendezvous))

	b.AddNode(id(nodeRendezvous), staged(sc, p.rendezvous(sc)))

	b.AddNode(id(nodeMaterialize), staged(sc, p.materializeArtifacts(sc)))
	b.AddEdge(id(nodeMaterialize), id(nodeWriteReport))

	b.AddNode(id(nodeWriteReport), staged(sc, p.writeReport(sc)))
	b.AddEdge(id(nodeWriteReport), NodeRouter)
}

// addObjectiveStage wires the clarification loop: init_history -> agent
// (suspending for the user as needed) -> checklist_validator ->
// rendezvous -> {agent, router}.
func (p *Pipeline) addObjectiveStage(b *graph.Builder, sc StageConfig) {
	id := func(name string) string { return nodeID(sc.Order, name) }

	b.AddNode(id(nodeInitHistory), staged(sc, p.objectiveInitHistory(sc)))
	b.AddEdge(id(nodeInitHistory), id(nodeAgent))

	b.AddNode(id(nodeAgent), staged(sc, p.objectiveAgent(sc)))
	b.AddEdge(id(nodeAgent), id(nodeChecklist))

	b.AddNode(id(nodeChecklist), staged(sc, p.checklistValidator(sc)))
	b.AddEdge(id(nodeChecklist), id(nodeRendezvous))

	b.AddNode(id(nodeRendezvous), staged(sc, p.objectiveRendezvous(sc)))
}

func (p *Pipeline) addReportStage(b *graph.Builder, sc StageConfig) {
	b.AddNode(nodeID(sc.Order, nodeFinalReport), staged(sc, p.finalReport(sc)))
	b.AddEdge(nodeID(sc.Order, nodeFinalReport), NodeRouter)
}
