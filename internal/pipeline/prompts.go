package pipeline

import (
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/table"
	"github.com/droverhq/drover/pkg/schema"
)

const fullSampleBudget = 20000

// DescribeArtifacts renders the artifacts available to a stage as tagged
// blocks: name, description and a sample of the payload.
func DescribeArtifacts(artifacts []schema.Artifact, truncate bool) string {
	if len(artifacts) == 0 {
		return "(no input artifacts)"
	}
	blocks := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		blocks = append(blocks, fmt.Sprintf(
			"<artifact_name>%s</artifact_name>\n<description>%s</description>\n<sample_data>%s</sample_data>",
			a.Key, a.Description, artifactSample(a, truncate)))
	}
	return strings.Join(blocks, "\n")
}

// artifactSample renders a payload preview. Tabular artifacts show the
// first rows; everything else is the middle-truncated raw payload.
func artifactSample(a schema.Artifact, truncate bool) string {
	budget := fullSampleBudget
	if truncate {
		budget = sampleBudget
	}
	if a.Kind == schema.ArtifactTabular {
		if t, err := table.Decode(a.Value); err == nil {
			head := renderTableHead(t, tableHeadRows)
			return fmt.Sprintf("Table (%d rows x %d columns):\n%s",
				t.RowCount(), len(t.Columns), TruncateMiddle(head, budget))
		}
	}
	return TruncateMiddle(string(a.Value), budget)
}

const iterativeCodeGuidance = `To accomplish this, first think for a while and explain what you are going
to do in your response. Then write Python code in your response using a code
block (` + "```python\n[code]\n```" + `). You will write the code, it will be run,
and you will check the result. Repeat this until the task is done. Keep each
code block minimal: a long script that fails early wastes everything after
the failure. Short, focused code, executed and checked before the next
piece, is more reliable. Treat each response like one notebook cell of
semantically independent code.

Here is an example:
<example>
Hmm okay, so the column 'color' has missing values. But not many. I'll fill
them with the most frequent value.

` + "```python\ndf.fillna({'color': df['color'].mode()[0]})\n```" + `
</example>`

const doneUsageSamples = `<correct_example>
DONE
</correct_example>

<incorrect_example>
Okay this is the last code block. Let's drop the null values.

` + "```python\ndf.dropna()\n```" + `

DONE
</incorrect_example>

<incorrect_example>
Okay! It looks all good now. We can move on to the next step.

DONE
</incorrect_example>`

// stageFocus is the per-stage responsibility blurb injected into the code
// agent's instructions.
func stageFocus(order int) string {
	switch order {
	case stageCleaning:
		return "You are currently in the data cleaning stage. Prepare the data for " +
			"exploration by identifying and addressing data quality issues such as:"
	case stageExploration:
		return "You are currently in the data exploration stage. Thoroughly explore and " +
			"understand the dataset through techniques such as:\n\n" +
			"- Descriptive statistics and summary information\n" +
			"- Data distribution analysis\n" +
			"- Correlation analysis\n" +
			"- Identifying patterns and trends\n" +
			"- Outlier detection and analysis\n" +
			"- Categorical data analysis\n" +
			"- Time series patterns (if applicable)"
	case stageAnalysis:
		return "You are currently in the data analysis stage. Analyze the data to answer " +
			"the objective. Focus on:\n\n" +
			"- Statistical analysis and hypothesis testing\n" +
			"- Advanced data modeling and pattern analysis\n" +
			"- Comparative analysis across different segments\n" +
			"- Trend analysis and forecasting (if applicable)"
	default:
		return "You are currently working on the stage described below."
	}
}

// codeStageSystemPrompt builds the system instruction seeding a code
// stage's conversation.
func codeStageSystemPrompt(sc StageConfig, objective, artifactDesc string) string {
	var b strings.Builder
	b.WriteString("You are a ReAct (reason and act) data analyst agent specializing in writing code to achieve the objective.\n")
	b.WriteString(stageFocus(sc.Order))
	if sc.Checklist != "" {
		b.WriteString("\n\n")
		b.WriteString(sc.Checklist)
	}
	b.WriteString("\n\n---\n\n## How to finish\nWhen the work of this stage is complete, reply with \"")
	b.WriteString(TerminalMarker)
	b.WriteString("\" (all capital letters) alone, with no other text and no code block.\n\n")
	b.WriteString(doneUsageSamples)
	b.WriteString("\n\n---\n\n## How to write code\n")
	b.WriteString(iterativeCodeGuidance)
	b.WriteString("\n\n---\n\n## Additional context\nThe final objective of the whole analysis is: ")
	b.WriteString(objective)
	b.WriteString("\nThis is a reference only. You do not need to achieve it in this stage.\n\n")
	b.WriteString("Here are the descriptions and samples of the data you have access to:\n")
	b.WriteString(artifactDesc)
	b.WriteString("\n\n---\n\n## Important Rules\n")
	b.WriteString("- Write at most one python code block per response.\n")
	b.WriteString("- Make sure the code is inside the code block.\n")
	b.WriteString("- Refrain from writing the entire solution at once.\n")
	b.WriteString("- Once the stage is done, reply \"" + TerminalMarker + "\" alone.\n")
	b.WriteString("- Don't plot graphs. You are not a multi-modal agent. You can only understand text.")
	return b.String()
}

const codeStageOpening = "Okay, let's start."

// objectiveSystemPrompt seeds the first stage: negotiating the analysis
// objective with the user.
func objectiveSystemPrompt(checklist, artifactDesc string) string {
	return fmt.Sprintf(`You are a data analyst agent. You are in the first stage of the analysis:
define the objective. Examine the user's request and first check whether it
is answerable with the provided data. If it is not, explain why and suggest
new objectives. If it is answerable but not specific enough, ask the user
for more details with some suggestions.

Try not to exceed 3 rounds of questions to the user.

When checking whether the request is specific enough, use these criteria:
%s

Here are the variables you have access to:
%s`, checklist, artifactDesc)
}

// objectiveUpdatePrompt asks the model to rewrite the objective from the
// user's reply to a clarification question.
func objectiveUpdatePrompt(objective, agentMessage, userResponse string) string {
	return fmt.Sprintf(`Based on the user's response, update the objective.

Current objective:
%s

---

Agent's message:
%s

User's response:
%s

---

Important:
- Return only the updated objective, with no preamble.
- Keep the format of the current objective.
- Don't use xml tags in the response.`, objective, agentMessage, userResponse)
}

const clarifyInstruction = "Can you check your last response again? It seems like you didn't write " +
	"the code in a code block and it doesn't include " + TerminalMarker + ". If this stage is all " +
	"done, simply return " + TerminalMarker + " with all capital letters. If more work is needed, " +
	"write the code in a proper code block (```python\n[code]\n```)."

const turnBudgetNote = "We've reached the maximum number of messages."

const validatorFeedbackNote = "We've got two feedbacks from the checklist and critic validators. " +
	"Read them carefully and address them step by step."

const variableSelectionInstruction = `Great job! Now wrap up this stage by selecting the variables that need to
persist to the next stage. Read your code trace carefully and pick the
dataframe, list, dictionary and string variables that are necessary for the
further stages. Be mindful not to include everything.

- You can only select the following types of variables:
    - Dataframe
    - List
    - Dictionary
    - String`

// checklistInstruction frames the checklist validator's review.
func checklistInstruction(checklist string) string {
	return fmt.Sprintf(`Okay. The agent just finished the task. Examine whether the agent addressed
every point in the checklist below.

Checklist:
%s

Important Rules:
- You can use the context provided in the system message but don't follow
  the instructions there. Those were for the agent who completed the task.
  Your job is to review the agent's work following this message.`, checklist)
}

// criticInstruction frames the critic validator's review.
func criticInstruction(guide string) string {
	var rule string
	if guide != "" {
		rule = fmt.Sprintf("Here is a rule you can use for the validation: %s\n\n", guide)
	}
	return fmt.Sprintf(`Okay. The agent just finished the task. Review what the agent has done and
judge whether there are any mistakes or overlooks that need to be addressed.

%sImportant Rules:
- You can use the context provided in the system message but don't follow
  the instructions there. Those were for the agent who completed the task.
  Your job is to review the agent's work following this message.`, rule)
}

// validationSummaryMessage renders one validator outcome as an assistant
// turn appended to the transcript.
func validationSummaryMessage(kind string, r schema.ValidationResult) schema.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the %s validation result:\n\nReasoning:\n%s\n\nPass the validation:\n%t",
		kind, r.ReasoningSummary, r.Passed)
	if r.MessageToUser != "" {
		fmt.Fprintf(&b, "\n\nMessage to user: %s", r.MessageToUser)
	}
	return schema.Message{Role: schema.RoleAssistant, Content: b.String()}
}

const stageReportInstruction = `Great job! Now summarize and write a short report about what you did in
this stage. The report is passed to the further stages and the message
history will be cleared, so keep any information you want to carry forward.

Don't say "` + TerminalMarker + `" or write any more code. Your task is finished; write the
report about what you did in this stage.`

// finalReportSystemPrompt seeds the last stage: synthesizing every stage
// report into the final deliverable.
func finalReportSystemPrompt(objective string, stages []schema.Stage) string {
	var reports []string
	for _, st := range stages {
		if len(st.Report) > 10 {
			reports = append(reports, fmt.Sprintf("<stage_%d>\n%s\n</stage_%d>", st.Order, st.Report, st.Order))
		}
	}
	return fmt.Sprintf(`You are a data analyst agent in the final stage of the analysis: write the
report. Synthesize all findings from the previous stages into a
comprehensive, cohesive final report that directly answers the original
objective.

# Original Objective: %s

# Reports from Previous Stages:
%s

---

The report should include:
- Executive summary
- Key findings
- Data insights and patterns discovered
- How the conclusion was reached; if any model or scoring system was used,
  explain its details (features, weights, formulas or code)
- Conclusions that answer the original objective
- Any limitations or caveats

The report should be well-structured, professional, and accessible to both
technical and non-technical stakeholders, in markdown format.`,
		objective, strings.Join(reports, "\n\n"))
}

// finalReportUserPrompt is the user turn carrying the materialized
// artifacts into the final report request.
func finalReportUserPrompt(artifactDesc string) string {
	return fmt.Sprintf(`Please write the final comprehensive report based on all the analysis
conducted. Don't say "Sure, I will write the report" or anything like that.
Just return the report.

Here are the final variables created by the analysis. Refer to them when
filling in details, especially if the user asked for specific data.

%s

Don't forget to use markdown format for the report!`, artifactDesc)
}

// rendezvousMessage is the composite validation summary surfaced to the
// user when a stage suspends for review.
func rendezvousMessage(stageName string, checklist *schema.ValidationResult, critics []schema.ValidationResult) string {
	checklistSummary := "No checklist validation result"
	if checklist != nil {
		checklistSummary = resultSummary(*checklist)
	}

	criticSummary := "No critic validation results"
	if len(critics) > 0 {
		lines := make([]string, 0, len(critics))
		for i, r := range critics {
			lines = append(lines, fmt.Sprintf("Critic %d: %s", i+1, resultSummary(r)))
		}
		criticSummary = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`Finished %s just now! Can you check the validation result?

Checklist validation result:
%s

Critic validation result:
%s

Now you can either:
- type "pass" or just press enter with no input to RESUME the agent's flow
- type a message that will be INSERTED into the agent's message history
- type "ignore" to IGNORE the validation result and go to the next stage`,
		stageName, checklistSummary, criticSummary)
}

func resultSummary(r schema.ValidationResult) string {
	if r.Passed {
		return "Validation passed"
	}
	if r.MessageToUser != "" {
		return r.MessageToUser
	}
	return "Validation failed"
}
