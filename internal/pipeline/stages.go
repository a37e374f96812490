package pipeline

import (
	"fmt"

	"github.com/droverhq/drover/pkg/schema"
)

// StageConfig is the per-stage tuning surface: the checklist the validator
// scores against, the optional critic guideline, and the message-turn
// budget that bounds the agent loop.
type StageConfig struct {
	Order       int    `json:"order"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Checklist   string `json:"checklist,omitempty"`
	CriticGuide string `json:"critic_guide,omitempty"`
	MaxTurns    int    `json:"max_turns"`
}

const (
	stageObjective   = 1
	stageCleaning    = 2
	stageExploration = 3
	stageAnalysis    = 4
	stageReport      = 5
)

const objectiveChecklist = `- Is there any ambiguous term used?
- Did the user provide what they want at the end of the analysis?
- Did the user provide a high level method for how to achieve the objective?`

const cleaningChecklist = `- Address missing values
- Address duplicate records
- Address inconsistent formatting
- Address inconsistent naming conventions
- Address outliers
- Address data type mismatches`

// DefaultStageConfigs returns the built-in five-stage pipeline.
func DefaultStageConfigs() []StageConfig {
	return []StageConfig{
		{
			Order:       stageObjective,
			Name:        "Define the Objective",
			Description: "Understand the problem and set goals",
			Checklist:   objectiveChecklist,
			MaxTurns:    3,
		},
		{
			Order:       stageCleaning,
			Name:        "Data Cleaning",
			Description: "Handle missing data, fix errors, and filter irrelevant data",
			Checklist:   cleaningChecklist,
			MaxTurns:    30,
		},
		{
			Order:       stageExploration,
			Name:        "Data Exploration",
			Description: "Summarize data and find anomalies/outliers",
			MaxTurns:    30,
		},
		{
			Order:       stageAnalysis,
			Name:        "Data Analysis & Visualization",
			MaxTurns:    50,
		},
		{
			Order:       stageReport,
			Name:        "Write Report",
			MaxTurns:    1,
		},
	}
}

// DefaultStages builds the initial stage descriptors from the configs.
func DefaultStages(configs []StageConfig) []schema.Stage {
	stages := make([]schema.Stage, 0, len(configs))
	for _, sc := range configs {
		stages = append(stages, schema.Stage{
			Order:       sc.Order,
			Name:        sc.Name,
			Description: sc.Description,
		})
	}
	return stages
}

// nodeID builds the namespaced node identifier for a stage-local node.
func nodeID(order int, name string) string {
	return fmt.Sprintf("s%d.%s", order, name)
}

// Stage-local node names.
const (
	nodeInitSession = "init_session"
	nodeInitHistory = "init_history"
	nodeAgent       = "agent"
	nodeExecute     = "execute"
	nodeValidate    = "validate_fanout"
	nodeChecklist   = "checklist_validator"
	nodeCritic      = "critic_validator"
	nodeRendezvous  = "rendezvous"
	nodeMaterialize = "materialize_artifacts"
	nodeWriteReport = "write_report"
	nodeFinalReport = "final_report"
)

// Graph-level nodes.
const (
	NodeBootstrap = "bootstrap"
	NodeRouter    = "router"
)
