package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/domain"
)

var columnTitles = map[domain.Column]string{
	domain.ColumnTodo:       "To Do",
	domain.ColumnInProgress: "In Progress",
	domain.ColumnCompleted:  "Completed",
	domain.ColumnFailed:     "Failed",
}

var columnColors = map[domain.Column]lipgloss.Color{
	domain.ColumnTodo:       lipgloss.Color("#7aa2f7"),
	domain.ColumnInProgress: lipgloss.Color("#e0af68"),
	domain.ColumnCompleted:  lipgloss.Color("#9ece6a"),
	domain.ColumnFailed:     lipgloss.Color("#f7768e"),
}

// styles are built per writer so that output to a file or buffer carries no
// escape sequences.
type styles struct {
	header func(domain.Column) lipgloss.Style
	dim    lipgloss.Style
	high   lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		header: func(c domain.Column) lipgloss.Style {
			return r.NewStyle().Bold(true).Foreground(columnColors[c])
		},
		dim:  r.NewStyle().Foreground(lipgloss.Color("#565f89")),
		high: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#f7768e")),
	}
}

func renderBoard(out io.Writer, cols domain.Columns) {
	s := newStyles(out)
	for i, col := range domain.AllColumns {
		if i > 0 {
			fmt.Fprintln(out)
		}
		lane := cols.Lane(col)
		fmt.Fprintln(out, s.header(col).Render(fmt.Sprintf("%s (%d)", columnTitles[col], len(lane))))
		if len(lane) == 0 {
			fmt.Fprintln(out, s.dim.Render("  (empty)"))
			continue
		}
		for _, t := range lane {
			fmt.Fprintln(out, "  "+taskLine(s, t))
		}
	}
}

func taskLine(s styles, t domain.Task) string {
	priority := string(t.Priority)
	if t.Priority == domain.PriorityHigh {
		priority = s.high.Render(priority)
	}
	parts := []string{s.dim.Render(shortID(t.ID)), "[" + priority + "]", t.Title}
	if !t.Deadline.IsZero() {
		parts = append(parts, s.dim.Render("due "+t.Deadline.String()))
	}
	if t.Status == domain.ColumnFailed {
		parts = append(parts, "reason: "+t.FailureReason)
	}
	if t.Sync == domain.SyncFailed {
		parts = append(parts, s.high.Render("(not synced)"))
	}
	return strings.Join(parts, " ")
}

func renderStats(out io.Writer, st domain.Stats) {
	s := newStyles(out)
	rows := []struct {
		label string
		value int
	}{
		{"Total", st.Total},
		{"Completed", st.Completed},
		{"Failed", st.Failed},
		{"High priority", st.HighPriority},
		{"Upcoming", st.Upcoming},
	}
	for _, row := range rows {
		fmt.Fprintf(out, "%s %d\n", s.dim.Render(fmt.Sprintf("%-14s", row.label+":")), row.value)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
