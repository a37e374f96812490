// Package pipeline assembles the five-stage data-analysis workflow on top
// of the graph engine: session bootstrap, the iterative code agent loop,
// the validator fan-out with its rendezvous barrier, artifact
// materialization and per-stage reports.
package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/llm"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/sandbox"
	"github.com/droverhq/drover/internal/streaming"
	"github.com/droverhq/drover/internal/table"
	"github.com/droverhq/drover/pkg/schema"
)

// Deps are the pipeline's external collaborators. Agent drives the code
// loop, Selector picks variables to keep, Validator scores checklists and
// writes reports, and Critics are the independently configured review
// identities.
type Deps struct {
	Agent     llm.Client
	Selector  llm.Client
	Validator llm.Client
	Critics   []llm.Client
	Sandbox   sandbox.Sandbox
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Config is the behavior surface consumed by the pipeline.
type Config struct {
	// UseHumanInTheLoop suspends each stage's rendezvous for user review.
	UseHumanInTheLoop bool
	// SkipFirstStage marks the objective stage complete up front, trusting
	// the caller-supplied objective as-is.
	SkipFirstStage bool
	// TerminateOnFirstStageBudget ends the whole run when the objective
	// stage exhausts its turn budget; when false the stage is abandoned
	// and the run continues with the objective as last negotiated.
	TerminateOnFirstStageBudget bool
	// Stages overrides the built-in stage configs.
	Stages []StageConfig
}

// Pipeline builds the workflow graph's nodes.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// History is seeded with a system instruction plus one opening user turn;
// the turn budget counts only messages exchanged after that.
const seededMessages = 2

// validationReply is the structured shape both validator kinds request.
type validationReply struct {
	ReasoningSummary string `json:"reasoning_summary" jsonschema:"description=A bullet point style summary of your reasoning trace."`
	Passed           bool   `json:"passed" jsonschema:"description=True if the agent successfully completed the task. False if it didn't."`
	MessageToUser    string `json:"message_to_user,omitempty" jsonschema:"description=If the validation is not passed explain why or ask for clarification. Otherwise leave empty."`
}

// selectedVariable is one binding the selector wants to persist.
type selectedVariable struct {
	Name        string `json:"name" jsonschema:"description=The name of the variable to save."`
	Description string `json:"description" jsonschema:"description=What this variable is about so the next stage can understand it."`
}

type variableSelectionList struct {
	Variables []selectedVariable `json:"variables" jsonschema:"description=The variables that must persist to the next stage."`
}

// objectiveReview is the structured judgment of the objective stage.
type objectiveReview struct {
	ChainOfThought string `json:"chain_of_thought" jsonschema:"description=Reason aloud about whether the request is answerable and specific enough."`
	Answerable     bool   `json:"is_request_answerable"`
	Specific       bool   `json:"is_request_specific"`
	MessageToUser  string `json:"message_to_user,omitempty" jsonschema:"description=If either flag is false explain why and suggest more specific objectives. Keep it short."`
}

func (p *Pipeline) emit(ctx context.Context, eventType string, payload any) {
	if p.deps.Hub == nil {
		return
	}
	ev := streaming.StreamEvent{
		RunID:     logging.RunID(ctx),
		NodeID:    graph.NodeID(ctx),
		EventType: eventType,
		Payload:   payload,
	}
	if err := p.deps.Hub.Publish(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "progress publish failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) progress(ctx context.Context, message string) {
	p.emit(ctx, schema.EventProgress, map[string]any{"message": message})
}

// bootstrap applies run-level flags before the first routing decision.
func (p *Pipeline) bootstrap() graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		var patch schema.Patch
		if p.cfg.SkipFirstStage {
			patch.Stages = []schema.Stage{{
				Order:     stageObjective,
				Completed: true,
				Report:    "Objective accepted as provided by the caller.",
			}}
		}
		return schema.Continue(patch), nil
	}
}

// router dispatches to the first incomplete stage, or ends the run.
func (p *Pipeline) router() graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		cur := s.CurrentStage()
		if cur == nil {
			p.progress(ctx, "All stages complete")
			return schema.Terminal(schema.Patch{}), nil
		}
		p.emit(ctx, schema.EventStageIndex, map[string]any{"index": cur.Order})
		p.emit(ctx, schema.EventStageStarted, map[string]any{"stage": cur.Order, "name": cur.Name})
		return schema.Continue(schema.Patch{}), nil
	}
}

// initSession acquires the sandbox session and preloads every artifact
// into named bindings with one bootstrap round-trip. A later stage finds
// the session already on the state and reuses it; bindings persist, so
// nothing is re-uploaded.
func (p *Pipeline) initSession(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		if s.SessionHandle != "" {
			return schema.Continue(schema.Patch{}), nil
		}
		p.progress(ctx, "Setting up execution environment...")

		session, err := p.deps.Sandbox.AcquireSession(ctx)
		if err != nil {
			return schema.Command{}, err
		}

		loaders := []string{"import pandas as pd", "import json"}
		for _, a := range s.Artifacts {
			name, content, loader, ok := preloadArtifact(a)
			if !ok {
				continue
			}
			path, err := p.deps.Sandbox.WriteFile(ctx, session, name, content)
			if err != nil {
				return schema.Command{}, err
			}
			loaders = append(loaders, fmt.Sprintf(loader, a.Key, path))
		}

		exec, err := p.deps.Sandbox.RunCode(ctx, session, strings.Join(loaders, "\n"))
		if err != nil {
			return schema.Command{}, err
		}
		if exec.Error != nil {
			return schema.Command{}, schema.NewErrorf(exec.Error.Code(),
				"session bootstrap: %s: %s", exec.Error.Name, exec.Error.Message)
		}

		p.progress(ctx, "Environment ready")
		return schema.Continue(schema.Patch{SessionHandle: &session}), nil
	}
}

// preloadArtifact maps an artifact onto an upload file plus the loader
// statement that binds it. The loader format takes the binding name and
// the uploaded path. Images are not preloaded.
func preloadArtifact(a schema.Artifact) (string, []byte, string, bool) {
	switch a.Kind {
	case schema.ArtifactTabular:
		t, err := table.Decode(a.Value)
		if err != nil {
			return "", nil, "", false
		}
		return a.Key + ".csv", tableCSV(t), "%s = pd.read_csv('%s')", true
	case schema.ArtifactStructured:
		return a.Key + ".json", []byte(a.Value), "with open('%[2]s', 'r') as f: %[1]s = json.load(f)", true
	case schema.ArtifactText, schema.ArtifactString:
		var text string
		if err := json.Unmarshal(a.Value, &text); err != nil {
			text = string(a.Value)
		}
		return a.Key + ".txt", []byte(text), "%s = open('%s', 'r').read()", true
	default:
		return "", nil, "", false
	}
}

func tableCSV(t *table.Table) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(t.Columns)
	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = fmt.Sprint(cell)
		}
		_ = w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}

// codeInitHistory seeds a code stage's conversation, discarding any
// scratch left from a previous stage.
func (p *Pipeline) codeInitHistory(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, fmt.Sprintf("Initializing %s...", sc.Name))
		return schema.Continue(schema.Patch{
			ClearScratch: true,
			ResetHistory: true,
			History: []schema.Message{
				{Role: schema.RoleSystem, Content: codeStageSystemPrompt(sc, s.Objective, DescribeArtifacts(s.Artifacts, true))},
				{Role: schema.RoleUser, Content: codeStageOpening},
			},
		}), nil
	}
}

// codeAgent runs one turn of the iterative code loop. The reply is
// classified in priority order: a fenced code block routes to execution, a
// terminal marker without code routes to validation, anything else loops
// back with a corrective instruction. Once the exchanged-message count
// reaches twice the stage's turn budget the transition to validation is
// forced regardless of reply content.
func (p *Pipeline) codeAgent(sc StageConfig) graph.NodeFunc {
	agentID := nodeID(sc.Order, nodeAgent)
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		if len(s.Scratch.History)-seededMessages >= 2*sc.MaxTurns {
			p.progress(ctx, "Maximum iteration limit reached")
			return schema.Goto(nodeID(sc.Order, nodeValidate), schema.Patch{
				History: []schema.Message{{Role: schema.RoleUser, Content: turnBudgetNote}},
			}), nil
		}

		p.progress(ctx, "Analyzing and planning next steps...")
		reply, err := p.deps.Agent.Generate(ctx, s.Scratch.History)
		if err != nil {
			return schema.Command{}, err
		}
		assistant := schema.Message{Role: schema.RoleAssistant, Content: reply}

		if code, ok := ExtractCodeBlock(reply); ok {
			return schema.Goto(nodeID(sc.Order, nodeExecute), schema.Patch{
				History:     []schema.Message{assistant},
				PendingCode: &code,
			}), nil
		}
		if HasTerminalMarker(reply) {
			return schema.Goto(nodeID(sc.Order, nodeValidate), schema.Patch{
				History: []schema.Message{assistant},
			}), nil
		}
		return schema.Goto(agentID, schema.Patch{
			History: []schema.Message{
				assistant,
				{Role: schema.RoleUser, Content: clarifyInstruction},
			},
		}), nil
	}
}

// execute runs the pending code block in the stage's session and appends
// the formatted outcome as the next turn. Execution errors are content for
// the agent, not node failures; only transport failures surface as errors.
// The node carries a single-attempt retry policy: re-running a code block
// is not idempotent.
func (p *Pipeline) execute(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, "Running code...")
		exec, err := p.deps.Sandbox.RunCode(ctx, s.SessionHandle, s.Scratch.PendingCode)
		if err != nil {
			return schema.Command{}, err
		}
		drained := ""
		return schema.Goto(nodeID(sc.Order, nodeAgent), schema.Patch{
			History:     []schema.Message{{Role: schema.RoleUser, Content: FormatExecution(exec)}},
			PendingCode: &drained,
		}), nil
	}
}

// validateFanout selects which bindings should outlive the stage, then
// fans out to both validators concurrently.
func (p *Pipeline) validateFanout(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, "Selecting variables to keep...")

		conv := append(append([]schema.Message(nil), s.Scratch.History...),
			schema.Message{Role: schema.RoleUser, Content: variableSelectionInstruction})
		var sel variableSelectionList
		if err := p.deps.Selector.GenerateStructured(ctx, conv, &sel); err != nil {
			return schema.Command{}, err
		}

		keep := make([]schema.VariableSelection, 0, len(sel.Variables))
		for _, v := range sel.Variables {
			keep = append(keep, schema.VariableSelection{Name: v.Name, Reason: v.Description})
		}
		return schema.FanOut(schema.Patch{KeepVariables: keep},
			nodeID(sc.Order, nodeChecklist), nodeID(sc.Order, nodeCritic)), nil
	}
}

// checklistValidator scores the transcript against the stage checklist,
// producing exactly one result.
func (p *Pipeline) checklistValidator(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, "Validating against checklist...")

		conv := append(append([]schema.Message(nil), s.Scratch.History...),
			schema.Message{Role: schema.RoleUser, Content: checklistInstruction(sc.Checklist)})
		var reply validationReply
		if err := p.deps.Validator.GenerateStructured(ctx, conv, &reply); err != nil {
			return schema.Command{}, err
		}

		result := schema.ValidationResult{
			Identity:         "checklist",
			ReasoningSummary: reply.ReasoningSummary,
			Passed:           reply.Passed,
			MessageToUser:    reply.MessageToUser,
		}
		return schema.Continue(schema.Patch{
			Checklist: &result,
			History:   []schema.Message{validationSummaryMessage("checklist", result)},
		}), nil
	}
}

// criticValidator reviews the transcript once per configured critic
// identity, in order, producing one result and one summary message each.
func (p *Pipeline) criticValidator(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, "Running quality review...")

		conv := append(append([]schema.Message(nil), s.Scratch.History...),
			schema.Message{Role: schema.RoleUser, Content: criticInstruction(sc.CriticGuide)})

		results := make([]schema.ValidationResult, 0, len(p.deps.Critics))
		msgs := make([]schema.Message, 0, len(p.deps.Critics))
		for i, critic := range p.deps.Critics {
			var reply validationReply
			if err := critic.GenerateStructured(ctx, conv, &reply); err != nil {
				return schema.Command{}, err
			}
			result := schema.ValidationResult{
				Identity:         fmt.Sprintf("critic-%d", i+1),
				ReasoningSummary: reply.ReasoningSummary,
				Passed:           reply.Passed,
				MessageToUser:    reply.MessageToUser,
			}
			results = append(results, result)
			msgs = append(msgs, validationSummaryMessage("critic", result))
		}
		return schema.Continue(schema.Patch{Critics: results, History: msgs}), nil
	}
}

// rendezvous joins both validator branches. With human-in-the-loop it
// suspends with a composite summary and interprets the resume value;
// otherwise the decision is automatic: advance only when the checklist and
// every critic passed.
func (p *Pipeline) rendezvous(sc StageConfig) graph.NodeFunc {
	advance := nodeID(sc.Order, nodeMaterialize)
	agentID := nodeID(sc.Order, nodeAgent)
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		allPassed := validationPassed(s)
		// Once the turn budget is spent, looping back could never converge;
		// the automatic decision advances regardless.
		budgetSpent := len(s.Scratch.History)-seededMessages >= 2*sc.MaxTurns

		if !p.cfg.UseHumanInTheLoop {
			if allPassed || budgetSpent {
				p.progress(ctx, "Proceeding to the next stage")
				return schema.Goto(advance, schema.Patch{}), nil
			}
			p.progress(ctx, "Addressing validation feedback...")
			return schema.Goto(agentID, feedbackPatch()), nil
		}

		input, err := graph.Interrupt(ctx, rendezvousMessage(sc.Name, s.Scratch.Checklist, s.Scratch.Critics))
		if err != nil {
			return schema.Command{}, err
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case schema.ResumeIgnore:
			return schema.Goto(advance, schema.Patch{}), nil
		case "", schema.ResumePass:
			if allPassed {
				return schema.Goto(advance, schema.Patch{}), nil
			}
			return schema.Goto(agentID, feedbackPatch()), nil
		default:
			// Free text, malformed or otherwise, is injected as a new
			// instruction; there is no invalid-input path here.
			return schema.Goto(agentID, schema.Patch{
				History: []schema.Message{{Role: schema.RoleUser, Content: input}},
			}), nil
		}
	}
}

func validationPassed(s *schema.State) bool {
	if s.Scratch.Checklist == nil || !s.Scratch.Checklist.Passed {
		return false
	}
	if len(s.Scratch.Critics) == 0 {
		return false
	}
	for _, r := range s.Scratch.Critics {
		if !r.Passed {
			return false
		}
	}
	return true
}

func feedbackPatch() schema.Patch {
	return schema.Patch{
		History: []schema.Message{{Role: schema.RoleUser, Content: validatorFeedbackNote}},
	}
}

// materializeArtifacts evaluates each selected binding in the session and
// stores the resulting artifact. Any binding that fails to evaluate is
// fatal for the stage.
func (p *Pipeline) materializeArtifacts(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		if len(s.Scratch.KeepVariables) == 0 {
			return schema.Continue(schema.Patch{}), nil
		}
		p.progress(ctx, "Saving artifacts for the next stage...")

		artifacts := make([]schema.Artifact, 0, len(s.Scratch.KeepVariables))
		for _, kv := range s.Scratch.KeepVariables {
			exec, err := p.deps.Sandbox.RunCode(ctx, s.SessionHandle, kv.Name)
			if err != nil {
				return schema.Command{}, err
			}
			if exec.Error != nil {
				return schema.Command{}, schema.NewErrorf(exec.Error.Code(),
					"materialize %s: %s: %s", kv.Name, exec.Error.Name, exec.Error.Message)
			}
			if len(exec.Results) == 0 {
				return schema.Command{}, schema.NewErrorf(schema.ErrCodeLookupError,
					"materialize %s: no value produced", kv.Name)
			}

			res := exec.Results[0]
			value, err := artifactValue(res)
			if err != nil {
				return schema.Command{}, err
			}
			artifacts = append(artifacts, schema.Artifact{
				Key:         kv.Name,
				Kind:        resultKind(res),
				Description: kv.Reason,
				Value:       value,
			})
			p.emit(ctx, schema.EventArtifactSaved, map[string]any{"key": kv.Name, "kind": string(resultKind(res))})
		}
		return schema.Continue(schema.Patch{Artifacts: artifacts}), nil
	}
}

func resultKind(r sandbox.Result) schema.ArtifactKind {
	if r.Kind != "" {
		return r.Kind
	}
	switch {
	case r.Table != nil:
		return schema.ArtifactTabular
	case len(r.PNG) > 0:
		return schema.ArtifactImage
	default:
		return schema.ArtifactText
	}
}

func artifactValue(r sandbox.Result) (json.RawMessage, error) {
	switch resultKind(r) {
	case schema.ArtifactTabular:
		return checkpoint.EncodeArtifactValue(schema.ArtifactTabular, r.Table)
	case schema.ArtifactImage:
		return checkpoint.EncodeArtifactValue(schema.ArtifactImage, r.PNG)
	case schema.ArtifactStructured:
		if json.Valid([]byte(r.Text)) {
			return json.RawMessage(r.Text), nil
		}
		return json.Marshal(r.Text)
	default:
		return checkpoint.EncodeArtifactValue(schema.ArtifactText, r.Text)
	}
}

// writeReport asks for a short stage summary, marks the stage complete and
// discards the stage-scoped scratch state.
func (p *Pipeline) writeReport(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, fmt.Sprintf("Writing %s summary report...", sc.Name))

		conv := append(append([]schema.Message(nil), s.Scratch.History...),
			schema.Message{Role: schema.RoleUser, Content: stageReportInstruction})
		report, err := p.deps.Validator.Generate(ctx, conv)
		if err != nil {
			return schema.Command{}, err
		}

		p.emit(ctx, schema.EventStageCompleted, map[string]any{"stage": sc.Order})
		return schema.Continue(schema.Patch{
			Stages:       []schema.Stage{{Order: sc.Order, Completed: true, Report: report}},
			ClearScratch: true,
		}), nil
	}
}

// finalReport synthesizes all stage reports and materialized artifacts
// into the run's final deliverable, stored as the last stage's report.
func (p *Pipeline) finalReport(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, "Preparing final comprehensive report...")

		conv := []schema.Message{
			{Role: schema.RoleSystem, Content: finalReportSystemPrompt(s.Objective, s.Stages)},
			{Role: schema.RoleUser, Content: finalReportUserPrompt(DescribeArtifacts(s.Artifacts, false))},
		}
		report, err := p.deps.Validator.Generate(ctx, conv)
		if err != nil {
			return schema.Command{}, err
		}

		p.emit(ctx, schema.EventFinalReport, map[string]any{"report": report})
		p.emit(ctx, schema.EventStageCompleted, map[string]any{"stage": sc.Order})
		return schema.Continue(schema.Patch{
			Stages:       []schema.Stage{{Order: sc.Order, Completed: true, Report: report}},
			ClearScratch: true,
		}), nil
	}
}

// objectiveInitHistory seeds the objective-negotiation conversation.
func (p *Pipeline) objectiveInitHistory(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		p.progress(ctx, "Reviewing the analysis objective...")
		return schema.Continue(schema.Patch{
			ClearScratch: true,
			ResetHistory: true,
			History: []schema.Message{
				{Role: schema.RoleSystem, Content: objectiveSystemPrompt(sc.Checklist, DescribeArtifacts(s.Artifacts, true))},
				{Role: schema.RoleUser, Content: "User request: " + s.Objective},
			},
		}), nil
	}
}

// objectiveAgent judges whether the request is answerable and specific.
// When it is not, the run suspends with a clarification question and the
// objective is rewritten from the user's reply.
func (p *Pipeline) objectiveAgent(sc StageConfig) graph.NodeFunc {
	agentID := nodeID(sc.Order, nodeAgent)
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		if len(s.Scratch.History)-seededMessages >= 2*sc.MaxTurns {
			p.progress(ctx, "Maximum clarification rounds reached")
			if p.cfg.TerminateOnFirstStageBudget {
				return schema.Terminal(schema.Patch{
					History: []schema.Message{{Role: schema.RoleUser, Content: turnBudgetNote}},
				}), nil
			}
			return schema.Goto(NodeRouter, schema.Patch{
				Stages:       []schema.Stage{{Order: sc.Order, Completed: true, Report: "Objective: " + s.Objective}},
				ClearScratch: true,
			}), nil
		}

		var review objectiveReview
		if err := p.deps.Agent.GenerateStructured(ctx, s.Scratch.History, &review); err != nil {
			return schema.Command{}, err
		}

		if review.Answerable && review.Specific {
			p.progress(ctx, "Objective is answerable and specific")
			return schema.Continue(schema.Patch{}), nil
		}

		input, err := graph.Interrupt(ctx, review.MessageToUser)
		if err != nil {
			return schema.Command{}, err
		}

		newObjective, err := p.deps.Agent.Generate(ctx, []schema.Message{
			{Role: schema.RoleUser, Content: objectiveUpdatePrompt(s.Objective, review.MessageToUser, input)},
		})
		if err != nil {
			return schema.Command{}, err
		}

		return schema.Goto(agentID, schema.Patch{
			Objective: &newObjective,
			History: []schema.Message{
				{Role: schema.RoleAssistant, Content: review.MessageToUser},
				{Role: schema.RoleUser, Content: fmt.Sprintf("The user said:\n%s\n\nAnd we updated the objective to:\n%s", input, newObjective)},
			},
		}), nil
	}
}

// objectiveRendezvous completes the first stage once the checklist passes,
// otherwise sends the agent back for another round.
func (p *Pipeline) objectiveRendezvous(sc StageConfig) graph.NodeFunc {
	return func(ctx context.Context, s *schema.State) (schema.Command, error) {
		if s.Scratch.Checklist != nil && s.Scratch.Checklist.Passed {
			return schema.Goto(NodeRouter, schema.Patch{
				Stages:       []schema.Stage{{Order: sc.Order, Completed: true, Report: "Objective: " + s.Objective}},
				ClearScratch: true,
			}), nil
		}
		return schema.Goto(nodeID(sc.Order, nodeAgent), schema.Patch{}), nil
	}
}

func defaultLogger() *slog.Logger {
	return slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}
