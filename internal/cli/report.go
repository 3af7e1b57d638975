package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/tally/internal/model"
)

// RenderTable lays out rows under headers with fixed-width columns.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = TableCellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, line(headers, TableHeaderStyle))
	for _, row := range rows {
		lines = append(lines, line(row, lipgloss.NewStyle()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderMetrics formats a metrics report.
func RenderMetrics(m model.Metrics) string {
	var b strings.Builder

	window := "all time"
	if !m.WindowStart.IsZero() {
		window = fmt.Sprintf("%s to %s", m.WindowStart.Format("2006-01-02"), m.WindowEnd.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Window:          %s\n", window)
	fmt.Fprintf(&b, "Transactions:    %d\n", m.Total)
	fmt.Fprintf(&b, "Categorized:     %d (%s)\n", m.Categorized, percent(m.CoverageRate))
	fmt.Fprintf(&b, "Uncategorized:   %d\n", m.Uncategorized)
	fmt.Fprintf(&b, "Avg confidence:  %.2f\n", m.AverageConfidence)
	fmt.Fprintf(&b, "Feedback:        %d (%s of categorized, %d corrections)\n", m.FeedbackCount, percent(m.CorrectionRate), m.CorrectionCount)
	fmt.Fprintf(&b, "Active rules:    %d\n", m.ActiveRules)

	sources := []model.ResultSource{model.SourceRule, model.SourceSmart, model.SourceAI, model.SourceNone}
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, []string{string(s), fmt.Sprint(m.BySource[s])})
	}
	b.WriteString("\n")
	b.WriteString(RenderTable([]string{"Source", "Count"}, rows))

	if len(m.RulesBySource) > 0 {
		keys := make([]string, 0, len(m.RulesBySource))
		for k := range m.RulesBySource {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		rows = rows[:0]
		for _, k := range keys {
			rows = append(rows, []string{k, fmt.Sprint(m.RulesBySource[model.RuleSource(k)])})
		}
		b.WriteString("\n\n")
		b.WriteString(RenderTable([]string{"Rule source", "Active"}, rows))
	}

	if len(m.TopCorrections) > 0 {
		rows = rows[:0]
		for _, c := range m.TopCorrections {
			rows = append(rows, []string{c.NormalizedText, fmt.Sprint(c.Count)})
		}
		b.WriteString("\n\n")
		b.WriteString(RenderTable([]string{"Most corrected", "Count"}, rows))
	}

	return RenderBox(ChartIcon+" Categorization metrics", b.String())
}

// RenderRules formats a rule listing.
func RenderRules(rules []model.CategorizationRule) string {
	if len(rules) == 0 {
		return SubtleStyle.Render("No rules.")
	}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		status := "active"
		if !r.IsActive {
			status = "inactive"
		}
		rows = append(rows, []string{
			fmt.Sprint(r.ID),
			r.Keyword,
			string(r.MatchType),
			string(r.PatternField),
			r.CategoryID,
			fmt.Sprint(r.Priority),
			string(r.Source),
			fmt.Sprint(r.UsageCount),
			status,
		})
	}
	return RenderTable([]string{"ID", "Keyword", "Match", "Field", "Category", "Priority", "Source", "Used", "Status"}, rows)
}

// RenderResultSummary counts results by source and review state.
func RenderResultSummary(results []model.CategorizationResult) string {
	counts := make(map[model.ResultSource]int)
	var failed, review, approved int
	for _, r := range results {
		if r.Status == model.StatusFailed {
			failed++
			continue
		}
		counts[r.Source]++
		if r.NeedsReview {
			review++
		}
		if r.AutoApprove {
			approved++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Processed:      %d\n", len(results))
	fmt.Fprintf(&b, "  rule:         %d\n", counts[model.SourceRule])
	fmt.Fprintf(&b, "  smart:        %d\n", counts[model.SourceSmart])
	fmt.Fprintf(&b, "  ai:           %d\n", counts[model.SourceAI])
	fmt.Fprintf(&b, "  uncategorized: %d\n", counts[model.SourceNone])
	fmt.Fprintf(&b, "Auto-approved:  %d\n", approved)
	fmt.Fprintf(&b, "Needs review:   %d", review)
	if failed > 0 {
		b.WriteString("\n" + ErrorStyle.Render(fmt.Sprintf("Failed:         %d", failed)))
	}
	return RenderBox("Categorization complete", b.String())
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}
