package schema

// Patch is the declarative state delta a node returns. Each field has a
// fixed reducer applied by Apply; reducers for append-only fields are
// associative, so merging fan-out branches in declared order is
// deterministic regardless of completion timing.
type Patch struct {
	Objective     *string             `json:"objective,omitempty"`
	SessionHandle *string             `json:"session_handle,omitempty"`
	Stages        []Stage             `json:"stages,omitempty"`
	Artifacts     []Artifact          `json:"artifacts,omitempty"`
	History       []Message           `json:"history,omitempty"`
	ResetHistory  bool                `json:"reset_history,omitempty"`
	PendingCode   *string             `json:"pending_code,omitempty"`
	Checklist     *ValidationResult   `json:"checklist,omitempty"`
	Critics       []ValidationResult  `json:"critics,omitempty"`
	KeepVariables []VariableSelection `json:"keep_variables,omitempty"`
	ClearScratch  bool                `json:"clear_scratch,omitempty"`
}

// IsZero reports whether the patch carries no changes.
func (p Patch) IsZero() bool {
	return p.Objective == nil && p.SessionHandle == nil &&
		len(p.Stages) == 0 && len(p.Artifacts) == 0 &&
		len(p.History) == 0 && !p.ResetHistory &&
		p.PendingCode == nil && p.Checklist == nil &&
		len(p.Critics) == 0 && len(p.KeepVariables) == 0 && !p.ClearScratch
}

// Apply merges a patch into the state and returns the updated state.
// The receiver is not mutated.
func Apply(s *State, p Patch) *State {
	out := s.Clone()

	if p.Objective != nil {
		out.Objective = *p.Objective
	}
	if p.SessionHandle != nil {
		out.SessionHandle = *p.SessionHandle
	}
	out.Stages = mergeStages(out.Stages, p.Stages)
	out.Artifacts = mergeArtifacts(out.Artifacts, p.Artifacts)

	if p.ClearScratch {
		out.Scratch = Scratch{}
	}
	out.Scratch.History = mergeHistory(out.Scratch.History, p.History, p.ResetHistory)
	if p.PendingCode != nil {
		out.Scratch.PendingCode = *p.PendingCode
	}
	if p.Checklist != nil {
		cl := *p.Checklist
		out.Scratch.Checklist = &cl
	}
	if len(p.Critics) > 0 {
		out.Scratch.Critics = append([]ValidationResult(nil), p.Critics...)
	}
	if len(p.KeepVariables) > 0 {
		out.Scratch.KeepVariables = append([]VariableSelection(nil), p.KeepVariables...)
	}
	return out
}

// mergeHistory appends delta to prev. When reset is set the delta replaces
// the history entirely (the designed reset sentinel).
func mergeHistory(prev, delta []Message, reset bool) []Message {
	if reset {
		return append([]Message(nil), delta...)
	}
	if len(delta) == 0 {
		return prev
	}
	return append(prev, delta...)
}

// mergeStages updates stage descriptors by order number. Completion flags
// are monotonic: a patch can set completed but never clear it.
func mergeStages(prev, delta []Stage) []Stage {
	if len(delta) == 0 {
		return prev
	}
	out := append([]Stage(nil), prev...)
	for _, d := range delta {
		found := false
		for i := range out {
			if out[i].Order != d.Order {
				continue
			}
			found = true
			if d.Name != "" {
				out[i].Name = d.Name
			}
			if d.Description != "" {
				out[i].Description = d.Description
			}
			if d.Completed {
				out[i].Completed = true
			}
			if d.Report != "" {
				out[i].Report = d.Report
			}
		}
		if !found {
			out = append(out, d)
		}
	}
	return out
}

// mergeArtifacts upserts by key. Within a single merge the last write for a
// key wins and earlier values leave no trace.
func mergeArtifacts(prev, delta []Artifact) []Artifact {
	if len(delta) == 0 {
		return prev
	}
	out := append([]Artifact(nil), prev...)
	for _, d := range delta {
		replaced := false
		for i := range out {
			if out[i].Key == d.Key {
				out[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, d)
		}
	}
	return out
}
