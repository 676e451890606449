package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/TobiSchelling/outreach/internal/database"
)

var boardOrder = []string{"cold", "contacted", "engaged", "qualified", "partnered", "revisit", "dnc"}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(11)
	activeColumnStyle = columnStyle.
				BorderForeground(lipgloss.Color("#5B8DEF"))
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#AAAAAA"))
)

var statusColors = map[string]lipgloss.Color{
	"cold":      "#7F8C8D",
	"contacted": "#5B8DEF",
	"engaged":   "#F5A623",
	"qualified": "#2ECC71",
	"partnered": "#27AE60",
	"revisit":   "#9B59B6",
	"dnc":       "#FF6B6B",
}

// board table column widths
const (
	colID      = 5
	colCompany = 28
	colStatus  = 10
	colConf    = 5
	colEmail   = 30
	colNext    = 12
)

// renderBoard draws one box per account status followed by a contact table.
// filter highlights the matching column and is shown in the title.
func renderBoard(stats *database.BoardStats, contacts []database.Contact, filter string) string {
	title := "Account board"
	if filter != "" {
		title += " (" + strings.ToLower(filter) + ")"
	}

	columns := make([]string, 0, len(boardOrder))
	for _, s := range boardOrder {
		style := columnStyle
		if strings.EqualFold(s, filter) {
			style = activeColumnStyle
		}
		name := lipgloss.NewStyle().Bold(true).Foreground(statusColors[s]).Render(s)
		body := fmt.Sprintf("%d\n%s", stats.ByStatus[s], mutedStyle.Render(fmt.Sprintf("avg %.0f", stats.AvgConfidence[s])))
		columns = append(columns, style.Render(lipgloss.JoinVertical(lipgloss.Left, name, body)))
	}

	summary := mutedStyle.Render(fmt.Sprintf("%d contacts | confidence high %d, medium %d, low %d | %d probes today",
		stats.Total, stats.HighConfidence, stats.MediumConfidence, stats.LowConfidence, stats.ProbesToday))

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		lipgloss.JoinHorizontal(lipgloss.Top, columns...),
		summary,
		"",
		renderContactTable(contacts),
	)
}

func renderContactTable(contacts []database.Contact) string {
	if len(contacts) == 0 {
		return mutedStyle.Render("No contacts.")
	}

	lines := []string{headerStyle.Render(row("ID", "Company", "Status", "Conf", "Email", "Next"))}
	for _, c := range contacts {
		email := c.DiscoveredEmail
		if email == "" {
			email = "(" + c.EmailStatus + ")"
		}
		next := c.NextActionDate
		if next == "" {
			next = "-"
		}
		line := row(fmt.Sprint(c.ID), c.CompanyName, c.AccountStatus, fmt.Sprint(c.ConfidenceScore), email, next)
		if color, ok := statusColors[c.AccountStatus]; ok && c.AccountStatus == "dnc" {
			line = lipgloss.NewStyle().Foreground(color).Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func row(id, company, status, conf, email, next string) string {
	return fmt.Sprintf("%-*s %-*s %-*s %*s  %-*s %s",
		colID, clip(id, colID),
		colCompany, clip(company, colCompany),
		colStatus, clip(status, colStatus),
		colConf, clip(conf, colConf),
		colEmail, clip(email, colEmail),
		clip(next, colNext))
}

// clip shortens s to at most n runes, marking the cut with "…".
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
