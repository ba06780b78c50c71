// Package workflow plans and executes multi-agent workflows: decomposing a
// task into role steps, running the steps, and carrying distilled context
// between them.
package workflow

import (
	"fmt"
	"regexp"
	"strings"

	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// Distilled is the structured extract of one agent's raw output. Passing
// this forward instead of the raw transcript keeps downstream prompts small.
type Distilled struct {
	Role            v1.AgentRole `json:"role"`
	Summary         string       `json:"summary,omitempty"`
	FilesCreated    []string     `json:"files_created,omitempty"`
	FilesModified   []string     `json:"files_modified,omitempty"`
	KeyFindings     []string     `json:"key_findings,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
	TestsPassed     int          `json:"tests_passed,omitempty"`
	TestsFailed     int          `json:"tests_failed,omitempty"`
	FailedTests     []string     `json:"failed_tests,omitempty"`
	Issues          []string     `json:"issues,omitempty"`
	Errors          []string     `json:"errors,omitempty"`
	RequiresFix     bool         `json:"requires_fix,omitempty"`

	raw string
}

const (
	maxErrorLines  = 5
	rawDetailLimit = 1000
)

var (
	summaryRe         = sectionPattern("Summary")
	filesCreatedRe    = sectionPattern("Files Created|Test Files Created|Documentation Files Created")
	filesModifiedRe   = sectionPattern("Files Modified")
	keyFindingsRe     = sectionPattern("Key Findings")
	recommendationsRe = sectionPattern("Recommendations for Next Agent|For Next Agent")
	issuesRe          = sectionPattern("Issues")

	testsPassedRe = regexp.MustCompile(`(\d+) passed`)
	testsFailedRe = regexp.MustCompile(`(\d+) failed`)
	failedTestRe  = regexp.MustCompile(`(?m)^FAILED\s+(\S+)`)
	errorLineRe   = regexp.MustCompile(`(?m)^.*(?:AssertionError:|Error:|Exception:).*$`)
)

// reviewIndicators are phrases that mark reviewer output as a rejection.
var reviewIndicators = []string{
	"does not meet",
	"missing",
	"issues found",
	"problems",
	"incorrect",
	"needs revision",
}

func sectionPattern(heading string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)## (?:` + heading + `)\s*\n(.*?)(?:\n##\s|\z)`)
}

// extractSections returns the concatenated bodies of every matching
// "## <heading>" section.
func extractSections(output string, re *regexp.Regexp) []string {
	var bodies []string
	for _, m := range re.FindAllStringSubmatch(output, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			bodies = append(bodies, body)
		}
	}
	return bodies
}

func extractSection(output string, re *regexp.Regexp) string {
	bodies := extractSections(output, re)
	if len(bodies) == 0 {
		return ""
	}
	return bodies[0]
}

// extractItems returns the "- " items under every matching heading. A body
// with no bullets at all falls back to its first paragraph as prose lines,
// so free-form sections like "## For Next Agent\nProceed." still come
// through without dragging in trailing log noise.
func extractItems(output string, re *regexp.Regexp) []string {
	var items []string
	for _, body := range extractSections(output, re) {
		lines := strings.Split(body, "\n")
		bulleted := false
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "- ") {
				items = append(items, strings.TrimPrefix(line, "- "))
				bulleted = true
			}
		}
		if bulleted {
			continue
		}
		for _, line := range lines {
			if line = strings.TrimSpace(line); line == "" {
				break
			} else {
				items = append(items, line)
			}
		}
	}
	return items
}

// Distill parses an agent's raw output into its structured essentials.
// Role-specific parsing applies on top of the common sections.
func Distill(role v1.AgentRole, output string) *Distilled {
	d := &Distilled{
		Role:    role,
		Summary: extractSection(output, summaryRe),
		raw:     output,
	}

	d.FilesCreated = extractItems(output, filesCreatedRe)
	d.FilesModified = extractItems(output, filesModifiedRe)
	d.KeyFindings = extractItems(output, keyFindingsRe)
	d.Recommendations = extractItems(output, recommendationsRe)

	switch role {
	case v1.RoleTester:
		if m := testsPassedRe.FindStringSubmatch(output); m != nil {
			fmt.Sscanf(m[1], "%d", &d.TestsPassed)
		}
		if m := testsFailedRe.FindStringSubmatch(output); m != nil {
			fmt.Sscanf(m[1], "%d", &d.TestsFailed)
		}
		for _, m := range failedTestRe.FindAllStringSubmatch(output, -1) {
			d.FailedTests = append(d.FailedTests, m[1])
		}
		d.RequiresFix = d.TestsFailed > 0
		if d.RequiresFix {
			for _, m := range errorLineRe.FindAllString(output, -1) {
				if len(d.Errors) >= maxErrorLines {
					break
				}
				d.Errors = append(d.Errors, strings.TrimSpace(m))
			}
		}
	case v1.RoleReviewer:
		lower := strings.ToLower(output)
		for _, indicator := range reviewIndicators {
			if strings.Contains(lower, indicator) {
				d.RequiresFix = true
				break
			}
		}
		d.Issues = extractItems(output, issuesRe)
	}

	return d
}

// ForwardContext renders the distilled output as context for the next
// workflow step: summary, files, findings, and recommendations only.
func (d *Distilled) ForwardContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Previous Step (%s)\n", d.Role)

	if d.Summary != "" {
		b.WriteString("\n### Summary\n")
		b.WriteString(d.Summary)
		b.WriteString("\n")
	}
	writeBullets(&b, "Files Created", d.FilesCreated)
	writeBullets(&b, "Files Modified", d.FilesModified)
	writeBullets(&b, "Key Findings", d.KeyFindings)
	writeBullets(&b, "Recommendations", d.Recommendations)

	return strings.TrimRight(b.String(), "\n")
}

// ErrorContext renders context for a fix-up agent: the forward context plus
// errors, test results, and a slice of the raw output.
func (d *Distilled) ErrorContext() string {
	var b strings.Builder
	b.WriteString(d.ForwardContext())
	b.WriteString("\n")

	writeBullets(&b, "Errors", d.Errors)
	writeBullets(&b, "Issues", d.Issues)

	if d.TestsPassed > 0 || d.TestsFailed > 0 {
		fmt.Fprintf(&b, "\n### Test Results\n%d passed, %d failed\n", d.TestsPassed, d.TestsFailed)
		for _, name := range d.FailedTests {
			fmt.Fprintf(&b, "- FAILED %s\n", name)
		}
	}

	if d.raw != "" {
		b.WriteString("\n## Additional Details\n")
		b.WriteString(truncate(d.raw, rawDetailLimit))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeBullets(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
