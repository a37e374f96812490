package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseState() *State {
	return &State{
		Objective: "analyze sales data",
		Stages: []Stage{
			{Order: 1, Name: "Define the Objective"},
			{Order: 2, Name: "Data Cleaning"},
		},
	}
}

func TestApply_HistoryAppend(t *testing.T) {
	s := baseState()
	s1 := Apply(s, Patch{History: []Message{{Role: RoleUser, Content: "a"}}})
	s2 := Apply(s1, Patch{History: []Message{{Role: RoleAssistant, Content: "b"}}})

	require.Len(t, s2.Scratch.History, 2)
	assert.Equal(t, "a", s2.Scratch.History[0].Content)
	assert.Equal(t, "b", s2.Scratch.History[1].Content)

	// Original state untouched.
	assert.Empty(t, s.Scratch.History)
}

func TestApply_HistoryReset(t *testing.T) {
	s := Apply(baseState(), Patch{History: []Message{
		{Role: RoleUser, Content: "old"},
	}})

	s = Apply(s, Patch{
		ResetHistory: true,
		History:      []Message{{Role: RoleSystem, Content: "fresh"}},
	})

	require.Len(t, s.Scratch.History, 1)
	assert.Equal(t, "fresh", s.Scratch.History[0].Content)
}

func TestApply_HistoryAppendAssociative(t *testing.T) {
	// Merging two branch patches one after the other equals merging their
	// concatenation, so branch order alone determines the result.
	a := Patch{History: []Message{{Role: RoleAssistant, Content: "checklist"}}}
	b := Patch{History: []Message{{Role: RoleAssistant, Content: "critic"}}}

	sequential := Apply(Apply(baseState(), a), b)
	combined := Apply(baseState(), Patch{History: append(a.History, b.History...)})

	assert.Equal(t, combined.Scratch.History, sequential.Scratch.History)
}

func TestApply_ArtifactLastWriterWins(t *testing.T) {
	v1 := json.RawMessage(`{"n":1}`)
	v2 := json.RawMessage(`{"n":2}`)

	s := Apply(baseState(), Patch{Artifacts: []Artifact{
		{Key: "df", Kind: ArtifactStructured, Value: v1},
		{Key: "df", Kind: ArtifactStructured, Value: v2},
	}})

	require.Len(t, s.Artifacts, 1)
	assert.JSONEq(t, `{"n":2}`, string(s.Artifacts[0].Value))
}

func TestApply_ArtifactReplaceInPlace(t *testing.T) {
	s := Apply(baseState(), Patch{Artifacts: []Artifact{
		{Key: "summary", Kind: ArtifactText, Value: json.RawMessage(`"v1"`)},
		{Key: "plot", Kind: ArtifactImage, Value: json.RawMessage(`"png"`)},
	}})
	s = Apply(s, Patch{Artifacts: []Artifact{
		{Key: "summary", Kind: ArtifactText, Value: json.RawMessage(`"v2"`)},
	}})

	require.Len(t, s.Artifacts, 2)
	assert.Equal(t, "summary", s.Artifacts[0].Key)
	assert.JSONEq(t, `"v2"`, string(s.Artifacts[0].Value))
	assert.Equal(t, "plot", s.Artifacts[1].Key)
}

func TestApply_StageCompletionMonotonic(t *testing.T) {
	s := Apply(baseState(), Patch{Stages: []Stage{
		{Order: 1, Completed: true, Report: "objective refined"},
	}})
	assert.True(t, s.Stages[0].Completed)
	assert.Equal(t, "objective refined", s.Stages[0].Report)

	// A later patch cannot revert the flag.
	s = Apply(s, Patch{Stages: []Stage{{Order: 1}}})
	assert.True(t, s.Stages[0].Completed)
}

func TestApply_ClearScratch(t *testing.T) {
	s := Apply(baseState(), Patch{
		History:   []Message{{Role: RoleUser, Content: "x"}},
		Checklist: &ValidationResult{Passed: true},
		Critics:   []ValidationResult{{Passed: false}},
	})

	s = Apply(s, Patch{ClearScratch: true})

	assert.Empty(t, s.Scratch.History)
	assert.Nil(t, s.Scratch.Checklist)
	assert.Empty(t, s.Scratch.Critics)
}

func TestCurrentStage(t *testing.T) {
	s := baseState()
	cur := s.CurrentStage()
	require.NotNil(t, cur)
	assert.Equal(t, 1, cur.Order)

	s = Apply(s, Patch{Stages: []Stage{{Order: 1, Completed: true}}})
	cur = s.CurrentStage()
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.Order)

	s = Apply(s, Patch{Stages: []Stage{{Order: 2, Completed: true}}})
	assert.Nil(t, s.CurrentStage())
}

func TestCommand_Builders(t *testing.T) {
	c := Goto("agent", Patch{})
	assert.Equal(t, []string{"agent"}, c.Next.Targets())

	c = FanOut(Patch{}, "checklist_validator", "critic_validator")
	assert.Equal(t, []string{"checklist_validator", "critic_validator"}, c.Next.Targets())

	c = Terminal(Patch{})
	assert.True(t, c.Next.Terminal)

	c = Continue(Patch{})
	assert.True(t, c.Next.IsZero())
}
