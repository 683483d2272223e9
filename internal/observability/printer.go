package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/interview-orchestrator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxCoveredToShow bounds the covered-criteria list in summaries
	maxCoveredToShow = 5
)

// Printer handles formatted output for the simulate command
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintTurn outputs one transcript exchange as it happens.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintTurn(message types.Message) {
	label := string(message.Speaker)
	if message.Competency != "" {
		label = fmt.Sprintf("%s [%s]", message.Speaker, message.Competency)
	}
	fmt.Fprintf(p.out, "%s: %s\n\n", label, message.Content)
}

// PrintCompetency outputs a per-competency progress summary.
func (p *Printer) PrintCompetency(snapshot types.CompetencySnapshot) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Score:    %.2f / 5.00\n", snapshot.TotalScore))
	sb.WriteString(fmt.Sprintf("Rubric:   filled=%v, %d questions asked\n", snapshot.RubricFilled, snapshot.QuestionCount))
	if snapshot.ProjectAnchor != "" {
		sb.WriteString(fmt.Sprintf("Anchor:   %s\n", snapshot.ProjectAnchor))
	}
	sb.WriteString("\n")

	sb.WriteString("Criteria:\n")
	for _, status := range snapshot.Criteria {
		sb.WriteString(fmt.Sprintf("  • %s — level %d (%s)\n", status.Criterion, status.Level, status.Coverage))
	}

	if len(snapshot.Covered) > 0 {
		sb.WriteString("\nCovered:\n")
		count := min(len(snapshot.Covered), maxCoveredToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  ✓ %s\n", snapshot.Covered[i]))
		}
		if len(snapshot.Covered) > maxCoveredToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(snapshot.Covered)-maxCoveredToShow))
		}
	}

	p.printBox("COMPETENCY: "+strings.ToUpper(snapshot.Competency), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFinal outputs the end-of-interview summary.
func (p *Printer) PrintFinal(ic *types.InterviewContext) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Candidate: %s\n", ic.Profile.CandidateName))
	sb.WriteString(fmt.Sprintf("Stage:     %s\n", ic.Stage))
	sb.WriteString(fmt.Sprintf("Questions: %d\n", ic.QuestionsAsked))
	sb.WriteString(fmt.Sprintf("Overall:   %.2f / 5.00\n", ic.OverallScore()))
	if summary := strings.TrimSpace(ic.Evaluator.Summary); summary != "" {
		sb.WriteString("\nEvaluator summary:\n")
		sb.WriteString(summary)
	}
	p.printBox("INTERVIEW COMPLETE", strings.TrimSuffix(sb.String(), "\n"))
}
