// Package planner decides sequential versus parallel execution for a work
// item by partitioning its declared file scope into domain lanes.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"laneflow/pkg/config"
	"laneflow/pkg/logx"
	"laneflow/pkg/workitem"
)

// Mode is the recommended execution style for a plan.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Lane is a domain-scoped partition of a work item's file scope. Lower rank
// merges into the baseline first. Lanes are immutable once a plan is built.
type Lane struct {
	Domain      string   `json:"domain"`
	Files       []string `json:"files"`
	Rank        int      `json:"rank"`
	Description string   `json:"description"`
}

// ExecutionPlan is the planner's output. A sequential plan carries a single
// lane covering the full scope.
type ExecutionPlan struct {
	WorkItemID   string  `json:"work_item_id"`
	Mode         Mode    `json:"mode"`
	Reason       string  `json:"reason"`
	FileCount    int     `json:"file_count"`
	DomainCount  int     `json:"domain_count"`
	OverlapRatio float64 `json:"overlap_ratio"`
	Lanes        []Lane  `json:"lanes"`
}

// PlanningError reports a scope problem that makes planning impossible. It
// fires before any workspace is allocated.
type PlanningError struct {
	WorkItemID string
	Reason     string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed for %s: %s", e.WorkItemID, e.Reason)
}

// Planner partitions work item scopes into execution lanes.
type Planner struct {
	cfg    config.PlannerConfig
	logger *logx.Logger
}

// New creates a planner with the given thresholds.
func New(cfg config.PlannerConfig) *Planner {
	return &Planner{
		cfg:    cfg,
		logger: logx.NewLogger("planner"),
	}
}

// Plan analyzes the work item's declared scope and returns an execution
// plan. Parallel execution is chosen only when the file count, domain count
// and overlap thresholds all hold.
func (p *Planner) Plan(item *workitem.WorkItem) (*ExecutionPlan, error) {
	if len(item.Files) == 0 {
		return nil, &PlanningError{WorkItemID: item.ID, Reason: "declared file scope is empty"}
	}

	byDomain, err := p.partition(item)
	if err != nil {
		return nil, err
	}

	// Unclassified files do not count toward parallel eligibility.
	domainCount := 0
	for domain := range byDomain {
		if domain != DomainOther {
			domainCount++
		}
	}

	fileCount := len(item.Files)
	overlap := overlapRatio(item.Files)

	var criteria []string
	if fileCount < p.cfg.MinFiles {
		criteria = append(criteria, fmt.Sprintf("too few files (%d < %d)", fileCount, p.cfg.MinFiles))
	}
	if domainCount < p.cfg.MinDomains {
		criteria = append(criteria, fmt.Sprintf("too few domains (%d < %d)", domainCount, p.cfg.MinDomains))
	}
	if overlap > p.cfg.MaxOverlap {
		criteria = append(criteria, fmt.Sprintf("high overlap (%.1f%% > %.1f%%)",
			overlap*100, p.cfg.MaxOverlap*100))
	}

	plan := &ExecutionPlan{
		WorkItemID:   item.ID,
		FileCount:    fileCount,
		DomainCount:  domainCount,
		OverlapRatio: overlap,
	}

	if len(criteria) > 0 {
		plan.Mode = ModeSequential
		plan.Reason = "not viable: " + strings.Join(criteria, ", ")
		plan.Lanes = []Lane{sequentialLane(item.Files)}
		p.logger.Info("Plan for %s: sequential (%s)", item.ID, plan.Reason)
		return plan, nil
	}

	plan.Mode = ModeParallel
	plan.Reason = fmt.Sprintf("%d files across %d domains with %.1f%% overlap",
		fileCount, domainCount, overlap*100)
	plan.Lanes = buildLanes(byDomain)
	p.logger.Info("Plan for %s: %d parallel lanes (%s)", item.ID, len(plan.Lanes), plan.Reason)
	return plan, nil
}

// partition assigns every file to exactly one domain. Explicit domain tags
// on the work item take precedence over path classification; a file carrying
// more than one tag has ambiguous ownership and fails the plan.
func (p *Planner) partition(item *workitem.WorkItem) (map[string][]string, error) {
	byDomain := make(map[string][]string)

	for _, file := range item.Files {
		domain := ""
		if tags, ok := item.Domains[file]; ok && len(tags) > 0 {
			if len(tags) > 1 {
				return nil, &PlanningError{
					WorkItemID: item.ID,
					Reason: fmt.Sprintf("file %s has ambiguous domain ownership (%s)",
						file, strings.Join(tags, ", ")),
				}
			}
			if !IsKnownDomain(tags[0]) {
				return nil, &PlanningError{
					WorkItemID: item.ID,
					Reason:     fmt.Sprintf("file %s has unknown domain tag %q", file, tags[0]),
				}
			}
			domain = tags[0]
		} else {
			domain = Classify(file)
		}
		byDomain[domain] = append(byDomain[domain], file)
	}

	return byDomain, nil
}

// overlapRatio is the fraction of files whose path matches the patterns of
// more than one domain.
func overlapRatio(files []string) float64 {
	if len(files) == 0 {
		return 0
	}
	shared := 0
	for _, file := range files {
		if matchingDomains(file) > 1 {
			shared++
		}
	}
	return float64(shared) / float64(len(files))
}

// buildLanes orders lanes ascending by rank, ties broken by domain name.
func buildLanes(byDomain map[string][]string) []Lane {
	lanes := make([]Lane, 0, len(byDomain))
	for domain, files := range byDomain {
		sort.Strings(files)
		lanes = append(lanes, Lane{
			Domain:      domain,
			Files:       files,
			Rank:        RankOf(domain),
			Description: describeLane(domain, len(files)),
		})
	}
	sort.Slice(lanes, func(i, j int) bool {
		if lanes[i].Rank != lanes[j].Rank {
			return lanes[i].Rank < lanes[j].Rank
		}
		return lanes[i].Domain < lanes[j].Domain
	})
	return lanes
}

func sequentialLane(files []string) Lane {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	return Lane{
		Domain:      "all",
		Files:       sorted,
		Rank:        0,
		Description: describeLane("all", len(sorted)),
	}
}

func describeLane(domain string, fileCount int) string {
	descriptions := map[string]string{
		DomainBackend:  "Backend API implementation",
		DomainFrontend: "Frontend UI implementation",
		DomainDatabase: "Database schema and migrations",
		DomainTests:    "Test suite implementation",
		DomainDocs:     "Documentation updates",
		DomainOther:    "Additional implementation tasks",
		"all":          "Full-scope implementation",
	}
	base, ok := descriptions[domain]
	if !ok {
		base = "Implementation tasks"
	}
	plural := "s"
	if fileCount == 1 {
		plural = ""
	}
	return fmt.Sprintf("%s (%d file%s)", base, fileCount, plural)
}
