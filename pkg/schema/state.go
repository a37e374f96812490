package schema

import "encoding/json"

// ArtifactKind classifies the payload of an Artifact.
type ArtifactKind string

const (
	ArtifactTabular    ArtifactKind = "tabular"
	ArtifactStructured ArtifactKind = "structured"
	ArtifactText       ArtifactKind = "text"
	ArtifactString     ArtifactKind = "string"
	ArtifactImage      ArtifactKind = "image"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a stage's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Stage is one ordered phase of the pipeline. Completed and Report are
// written exactly once, by the stage's report node.
type Stage struct {
	Order       int    `json:"order"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	Report      string `json:"report,omitempty"`
}

// Artifact is a named, typed value produced during a stage and carried
// forward to later stages. Value holds the kind-specific JSON envelope
// (tabular payloads use the column/row form).
type Artifact struct {
	Key         string          `json:"key"`
	Kind        ArtifactKind    `json:"kind"`
	Description string          `json:"description,omitempty"`
	Value       json.RawMessage `json:"value"`
}

// ValidationResult is a pass/fail judgment from a validator node.
// MessageToUser is populated only when the validation did not pass.
type ValidationResult struct {
	Identity         string `json:"identity,omitempty"`
	ReasoningSummary string `json:"reasoning_summary"`
	Passed           bool   `json:"passed"`
	MessageToUser    string `json:"message_to_user,omitempty"`
}

// VariableSelection names a sandbox binding that should persist beyond the
// current stage, with the model's justification.
type VariableSelection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Scratch is stage-scoped working state. It exists only while a stage is
// active and is discarded once the stage's report is written.
type Scratch struct {
	History       []Message           `json:"history,omitempty"`
	PendingCode   string              `json:"pending_code,omitempty"`
	Checklist     *ValidationResult   `json:"checklist,omitempty"`
	Critics       []ValidationResult  `json:"critics,omitempty"`
	KeepVariables []VariableSelection `json:"keep_variables,omitempty"`
}

// State is the versioned container threaded through every node invocation.
// Nodes receive it read-only and mutate it only through patches.
type State struct {
	Objective     string     `json:"objective"`
	Stages        []Stage    `json:"stages"`
	Artifacts     []Artifact `json:"artifacts,omitempty"`
	SessionHandle string     `json:"session_handle,omitempty"`
	Scratch       Scratch    `json:"scratch"`
}

// CurrentStage returns the first stage by order whose completion flag is
// false, or nil when all stages are complete.
func (s *State) CurrentStage() *Stage {
	var current *Stage
	for i := range s.Stages {
		st := &s.Stages[i]
		if st.Completed {
			continue
		}
		if current == nil || st.Order < current.Order {
			current = st
		}
	}
	return current
}

// Artifact returns the artifact with the given key, or nil.
func (s *State) Artifact(key string) *Artifact {
	for i := range s.Artifacts {
		if s.Artifacts[i].Key == key {
			return &s.Artifacts[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the state. The engine hands clones to
// concurrent branches so a node can never observe another branch's writes.
func (s *State) Clone() *State {
	c := &State{
		Objective:     s.Objective,
		SessionHandle: s.SessionHandle,
	}
	c.Stages = append([]Stage(nil), s.Stages...)
	c.Artifacts = make([]Artifact, len(s.Artifacts))
	for i, a := range s.Artifacts {
		a.Value = append(json.RawMessage(nil), a.Value...)
		c.Artifacts[i] = a
	}
	c.Scratch.History = append([]Message(nil), s.Scratch.History...)
	c.Scratch.PendingCode = s.Scratch.PendingCode
	if s.Scratch.Checklist != nil {
		cl := *s.Scratch.Checklist
		c.Scratch.Checklist = &cl
	}
	c.Scratch.Critics = append([]ValidationResult(nil), s.Scratch.Critics...)
	c.Scratch.KeepVariables = append([]VariableSelection(nil), s.Scratch.KeepVariables...)
	return c
}
