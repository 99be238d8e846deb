package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"prism-plan/domain"
	"prism-plan/matrix"
	"prism-plan/realtime"
)

const columnWidth = 28

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1).
			Width(columnWidth)

	statusStyles = map[realtime.State]lipgloss.Style{
		realtime.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		realtime.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		realtime.Error:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		realtime.Disconnected: subtleStyle,
	}
)

type bucketSpec struct {
	quadrant domain.Quadrant
	symbol   string
	label    string
	color    lipgloss.Color
}

var buckets = []bucketSpec{
	{domain.Spade, "♠", "urgent + important", lipgloss.Color("63")},
	{domain.Heart, "♥", "important", lipgloss.Color("197")},
	{domain.Diamond, "♦", "urgent", lipgloss.Color("214")},
	{domain.Club, "♣", "neither", lipgloss.Color("35")},
	{domain.Unassigned, "·", "unassigned", lipgloss.Color("241")},
}

// renderGrouping lays the five buckets out as a two-by-two matrix with the
// unassigned tasks underneath.
func renderGrouping(g matrix.Grouping) string {
	boxes := make([]string, len(buckets))
	for i, b := range buckets {
		boxes[i] = renderBucket(b, g.Bucket(b.quadrant))
	}
	top := lipgloss.JoinHorizontal(lipgloss.Top, boxes[0], boxes[1])
	bottom := lipgloss.JoinHorizontal(lipgloss.Top, boxes[2], boxes[3])
	return lipgloss.JoinVertical(lipgloss.Left, top, bottom, boxes[4])
}

func renderBucket(b bucketSpec, tasks []domain.Task) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(b.color).
		Render(fmt.Sprintf("%s %s", b.symbol, b.quadrant)) + " " + subtleStyle.Render(b.label)
	lines := []string{header}
	if len(tasks) == 0 {
		lines = append(lines, subtleStyle.Render("(empty)"))
	}
	for _, t := range tasks {
		lines = append(lines, renderTask(t))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderTask(t domain.Task) string {
	title := t.Title
	if title == "" {
		title = t.ID
	}
	switch t.Status {
	case domain.StatusDone:
		return doneStyle.Render(title)
	case domain.StatusInProgress:
		return "▸ " + title
	default:
		return "• " + title
	}
}

func renderStatus(st matrix.SyncState) string {
	style, ok := statusStyles[st.Status]
	if !ok {
		style = subtleStyle
	}
	line := style.Render(string(st.Status))
	if st.LastSyncedAt != nil {
		line += subtleStyle.Render(" · last synced " + st.LastSyncedAt.Local().Format(time.TimeOnly))
	}
	return line
}

func renderHeader(scope domain.Scope) string {
	return titleStyle.Render("prism") + subtleStyle.Render(" · "+string(scope)+" tasks")
}
