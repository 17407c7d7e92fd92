// Package report renders a run for people (aligned, optionally coloured
// text) and for machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/autodoctor/pkg/engine"
	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// Glyphs carry severity without relying on colour.
const (
	GlyphError   = "✗"
	GlyphWarning = "!"
	GlyphInfo    = "·"
	GlyphOK      = "✓"
)

var (
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorGreen  = lipgloss.Color("42")
	colorDim    = lipgloss.Color("240")
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	errorStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	warningStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle        = lipgloss.NewStyle().Foreground(colorDim)
	okStyle         = lipgloss.NewStyle().Foreground(colorGreen)
	suggestionStyle = lipgloss.NewStyle().Italic(true).Foreground(colorCyan)
)

// Options controls text rendering.
type Options struct {
	// Color enables ANSI styling.
	Color bool
	// ShowKeys prints each finding's suppression key.
	ShowKeys bool
	// MaxLocationWidth truncates long locations; 0 means 48.
	MaxLocationWidth int
}

type painter struct{ on bool }

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p.on {
		return text
	}
	return s.Render(text)
}

func (p painter) severity(sev model.Severity) string {
	switch sev {
	case model.SeverityError:
		return p.paint(errorStyle, GlyphError+" error")
	case model.SeverityWarning:
		return p.paint(warningStyle, GlyphWarning+" warning")
	default:
		return p.paint(dimStyle, GlyphInfo+" info")
	}
}

// Text writes a human-readable report.
func Text(w io.Writer, res engine.Result, opts Options) error {
	if opts.MaxLocationWidth <= 0 {
		opts.MaxLocationWidth = 48
	}
	p := painter{on: opts.Color}
	var b strings.Builder

	groups, order := byAutomation(res.Issues)
	for _, id := range order {
		issues := groups[id]
		fmt.Fprintf(&b, "%s %s\n", p.paint(headerStyle, issues[0].AutomationName), p.paint(dimStyle, "("+id+")"))

		width := 0
		for _, is := range issues {
			width = max(width, runewidth.StringWidth(truncate(is.Location, opts.MaxLocationWidth)))
		}
		for _, is := range issues {
			loc := truncate(is.Location, opts.MaxLocationWidth)
			fmt.Fprintf(&b, "  %s  %s  %s\n",
				pad(p.severity(is.Severity), severityWidth(is.Severity), len("! warning")),
				p.paint(dimStyle, pad(loc, runewidth.StringWidth(loc), width)),
				is.Message)
			if is.Suggestion != "" {
				fmt.Fprintf(&b, "  %s  %s  %s\n", strings.Repeat(" ", len("! warning")), strings.Repeat(" ", width),
					p.paint(suggestionStyle, "did you mean '"+is.Suggestion+"'?"))
			}
			if opts.ShowKeys {
				fmt.Fprintf(&b, "  %s  %s  %s\n", strings.Repeat(" ", len("! warning")), strings.Repeat(" ", width),
					p.paint(dimStyle, "key: "+is.SuppressionKey()))
			}
		}
		b.WriteString("\n")
	}

	if len(res.Conflicts) > 0 {
		fmt.Fprintf(&b, "%s\n", p.paint(headerStyle, "Conflicts"))
		for _, c := range res.Conflicts {
			fmt.Fprintf(&b, "  %s  %s: %s ↔ %s\n",
				pad(p.severity(c.Severity), severityWidth(c.Severity), len("! warning")),
				c.EntityID, c.ActionA, c.ActionB)
			fmt.Fprintf(&b, "     %s\n", c.Explanation)
			fmt.Fprintf(&b, "     %s\n", p.paint(dimStyle, c.Scenario))
			if opts.ShowKeys {
				fmt.Fprintf(&b, "     %s\n", p.paint(dimStyle, "key: "+c.SuppressionKey()))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(summary(p, res))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Summary returns the one-line totals printed at the end of Text.
func Summary(res engine.Result, color bool) string {
	return summary(painter{on: color}, res)
}

func summary(p painter, res engine.Result) string {
	errs, warns := 0, 0
	for _, is := range res.Issues {
		switch is.Severity {
		case model.SeverityError:
			errs++
		case model.SeverityWarning:
			warns++
		}
	}
	for _, c := range res.Conflicts {
		switch c.Severity {
		case model.SeverityError:
			errs++
		case model.SeverityWarning:
			warns++
		}
	}
	head := p.paint(okStyle, GlyphOK+" no problems found")
	if errs+warns > 0 {
		head = fmt.Sprintf("%s, %s", p.paint(errorStyle, plural(errs, "error")), p.paint(warningStyle, plural(warns, "warning")))
	}
	tail := res.Stats.String()
	if res.Stats.Suppressed > 0 {
		tail += fmt.Sprintf(", %d suppressed", res.Stats.Suppressed)
	}
	return head + p.paint(dimStyle, " ("+tail+")")
}

// JSON writes the result as indented JSON.
func JSON(w io.Writer, res engine.Result) error {
	if res.Issues == nil {
		res.Issues = []model.ValidationIssue{}
	}
	if res.Conflicts == nil {
		res.Conflicts = []model.Conflict{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// byAutomation groups issues, keeping automations in first-seen order.
func byAutomation(issues []model.ValidationIssue) (map[string][]model.ValidationIssue, []string) {
	groups := map[string][]model.ValidationIssue{}
	var order []string
	for _, is := range issues {
		if _, ok := groups[is.AutomationID]; !ok {
			order = append(order, is.AutomationID)
		}
		groups[is.AutomationID] = append(groups[is.AutomationID], is)
	}
	for _, id := range order {
		g := groups[id]
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].Severity.Rank() > g[j].Severity.Rank()
		})
	}
	return groups, order
}

// severityWidth is the display width of the unstyled severity label.
func severityWidth(sev model.Severity) int {
	switch sev {
	case model.SeverityError:
		return runewidth.StringWidth(GlyphError + " error")
	case model.SeverityWarning:
		return runewidth.StringWidth(GlyphWarning + " warning")
	default:
		return runewidth.StringWidth(GlyphInfo + " info")
	}
}

// pad right-pads s, whose display width is known, to width. Styled strings
// carry escape codes, so their width is passed in.
func pad(s string, sw, width int) string {
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
