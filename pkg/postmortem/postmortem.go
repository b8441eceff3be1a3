// Package postmortem distills a finished run's artifacts into a structured
// report. Recording is a single pass over the inputs and is best-effort:
// a failure here never blocks the work item from reaching its terminal
// state.
package postmortem

import (
	"fmt"
	"strings"
	"time"

	"laneflow/pkg/dispatch"
	"laneflow/pkg/gate"
	"laneflow/pkg/logx"
	"laneflow/pkg/workitem"
)

// Error reports that a post-mortem could not be produced. Callers log it
// and move on.
type Error struct {
	WorkItemID string
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("post-mortem failed for %s: %s", e.WorkItemID, e.Reason)
}

// Recorder produces post-mortem reports from run artifacts.
type Recorder struct {
	logger *logx.Logger
}

// NewRecorder creates a post-mortem recorder.
func NewRecorder() *Recorder {
	return &Recorder{logger: logx.NewLogger("postmortem")}
}

// Record builds a report from the accumulated dispatch results and
// validation attempts. It is a pure function of its inputs: no retries, no
// loops beyond the single categorization pass.
func (r *Recorder) Record(item *workitem.WorkItem, results *dispatch.Set, attempts []gate.Attempt) (*workitem.PostMortemReport, error) {
	if item == nil {
		return nil, &Error{WorkItemID: "", Reason: "work item is required"}
	}
	if results == nil && len(attempts) == 0 {
		return nil, &Error{WorkItemID: item.ID, Reason: "no run artifacts to summarize"}
	}

	report := &workitem.PostMortemReport{
		CreatedAt:       time.Now().UTC(),
		WorkItemID:      item.ID,
		WorkedWell:      []string{},
		Challenges:      []workitem.Challenge{},
		Recommendations: []string{},
	}

	if results != nil {
		r.summarizeDispatch(report, results)
	}
	r.summarizeValidation(report, attempts)

	if len(report.WorkedWell) == 0 && len(report.Challenges) == 0 {
		return nil, &Error{WorkItemID: item.ID, Reason: "run artifacts contained no results"}
	}

	r.logger.Info("Recorded post-mortem for %s: %d notes, %d challenges, %d recommendations",
		item.ID, len(report.WorkedWell), len(report.Challenges), len(report.Recommendations))
	return report, nil
}

func (r *Recorder) summarizeDispatch(report *workitem.PostMortemReport, results *dispatch.Set) {
	for _, result := range results.Results {
		switch result.Outcome {
		case dispatch.OutcomeSuccess:
			report.WorkedWell = append(report.WorkedWell,
				fmt.Sprintf("%s lane completed in %s (%d files touched)",
					result.Domain, result.Duration.Round(time.Second), len(result.FilesTouched)))
		case dispatch.OutcomePartial:
			report.Challenges = append(report.Challenges, workitem.Challenge{
				Description: fmt.Sprintf("%s lane stopped early: %s", result.Domain, joinIssues(result.Issues)),
				Resolution:  "lane wound down cooperatively after a sibling failure",
			})
		case dispatch.OutcomeFailed:
			report.Challenges = append(report.Challenges, workitem.Challenge{
				Description: fmt.Sprintf("%s lane failed: %s", result.Domain, joinIssues(result.Issues)),
				Resolution:  "unresolved, workspace preserved for inspection",
			})
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("investigate the %s lane failure before re-running", result.Domain))
		}
	}

	if results.Cancelled {
		report.Recommendations = append(report.Recommendations,
			"a failing lane cancelled its siblings; consider splitting the work item into smaller scopes")
	}
}

func (r *Recorder) summarizeValidation(report *workitem.PostMortemReport, attempts []gate.Attempt) {
	if len(attempts) == 0 {
		return
	}

	last := attempts[len(attempts)-1]
	switch {
	case last.Outcome == gate.OutcomePass && len(attempts) == 1:
		report.WorkedWell = append(report.WorkedWell, "validation passed on the first attempt")
	case last.Outcome == gate.OutcomePass:
		report.WorkedWell = append(report.WorkedWell,
			fmt.Sprintf("validation recovered on attempt %d", last.Attempt))
		report.Recommendations = append(report.Recommendations,
			"promote the failing checks into per-lane validation to catch them before merge")
	default:
		report.Challenges = append(report.Challenges, workitem.Challenge{
			Description: fmt.Sprintf("validation failed on all %d attempts: %s",
				len(attempts), joinIssues(last.Errors)),
			Resolution:  "retries exhausted, manual intervention required",
		})
		report.Recommendations = append(report.Recommendations,
			"resolve the validation failures manually, then reopen the work item")
	}

	for _, attempt := range attempts {
		if attempt.FixerInvoked {
			report.Challenges = append(report.Challenges, workitem.Challenge{
				Description: fmt.Sprintf("attempt %d failed: %s", attempt.Attempt, joinIssues(attempt.Errors)),
				Resolution:  "fixer invoked before the next attempt",
			})
		}
	}
}

func joinIssues(issues []string) string {
	if len(issues) == 0 {
		return "no details captured"
	}
	return strings.Join(issues, "; ")
}
