package planner

import "regexp"

// Domain labels. Rank order controls merge sequencing: lower ranks land in
// the baseline first.
const (
	DomainDatabase = "database"
	DomainBackend  = "backend"
	DomainFrontend = "frontend"
	DomainTests    = "tests"
	DomainDocs     = "docs"
	DomainOther    = "other"
)

// domainRanks is fixed and total for the known domains. Unclassified files
// merge last.
var domainRanks = map[string]int{
	DomainDatabase: 0,
	DomainBackend:  1,
	DomainFrontend: 2,
	DomainTests:    3,
	DomainDocs:     4,
	DomainOther:    5,
}

// RankOf returns the merge rank for a domain label.
func RankOf(domain string) int {
	if rank, ok := domainRanks[domain]; ok {
		return rank
	}
	return domainRanks[DomainOther]
}

// KnownDomains returns the classifiable domain labels in rank order.
func KnownDomains() []string {
	return []string{DomainDatabase, DomainBackend, DomainFrontend, DomainTests, DomainDocs}
}

// classifyOrder fixes rule precedence: a path matching multiple domains is
// assigned to the first match.
var classifyOrder = []string{DomainBackend, DomainFrontend, DomainDatabase, DomainTests, DomainDocs}

var domainRules = map[string][]*regexp.Regexp{
	DomainBackend: compileRules(
		`^src/backend/`,
		`^src/api/`,
		`^src/services/`,
		`^src/models/`,
		`^backend/`,
		`^api/`,
		`^services/`,
		`^models/`,
		`\.service\.py$`,
		`\.controller\.py$`,
		`\.router\.py$`,
	),
	DomainFrontend: compileRules(
		`^src/frontend/`,
		`^src/components/`,
		`^src/pages/`,
		`^src/ui/`,
		`^frontend/`,
		`^components/`,
		`^pages/`,
		`^ui/`,
		`\.tsx?$`,
		`\.jsx?$`,
		`\.vue$`,
		`\.svelte$`,
	),
	DomainDatabase: compileRules(
		`^migrations/`,
		`^alembic/`,
		`^src/database/`,
		`^src/schemas/`,
		`^database/`,
		`^schemas/`,
		`migration.*\.py$`,
		`\.sql$`,
	),
	DomainTests: compileRules(
		`^tests/`,
		`^test/`,
		`test_.*\.py$`,
		`.*_test\.py$`,
		`\.test\.ts$`,
		`\.spec\.ts$`,
	),
	DomainDocs: compileRules(
		`^docs/`,
		`^documentation/`,
		`README.*\.md$`,
		`\.md$`,
		`\.rst$`,
	),
}

func compileRules(patterns ...string) []*regexp.Regexp {
	rules := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, regexp.MustCompile(`(?i)`+p))
	}
	return rules
}

// Classify assigns a file path to a single domain. Paths matching no rule
// fall into DomainOther.
func Classify(path string) string {
	for _, domain := range classifyOrder {
		for _, rule := range domainRules[domain] {
			if rule.MatchString(path) {
				return domain
			}
		}
	}
	return DomainOther
}

// matchingDomains counts how many distinct domains a path's patterns match.
// A count above one marks the file as shared for the overlap metric.
func matchingDomains(path string) int {
	count := 0
	for _, domain := range classifyOrder {
		for _, rule := range domainRules[domain] {
			if rule.MatchString(path) {
				count++
				break
			}
		}
	}
	return count
}

// IsKnownDomain reports whether the label is one of the classifiable domains.
func IsKnownDomain(domain string) bool {
	for _, d := range KnownDomains() {
		if d == domain {
			return true
		}
	}
	return false
}
