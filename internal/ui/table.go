package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// ChainRow is one configured chain in the `jump hosts` listing.
type ChainRow struct {
	Name    string
	Hops    []string
	Default bool
}

// HostRow is one ssh config alias in the `jump hosts` listing.
type HostRow struct {
	Alias       string
	Description string
	HasKey      bool
}

// RenderTable renders a bordered table with a bold header row.
func RenderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// RenderChains renders configured chains, marking the default.
func RenderChains(rows []ChainRow) string {
	if len(rows) == 0 {
		return "No chains configured"
	}

	defaultStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	data := make([][]string, len(rows))
	for i, r := range rows {
		marker := ""
		if r.Default {
			marker = defaultStyle.Render(SymbolComplete)
		}
		data[i] = []string{marker, r.Name, strings.Join(r.Hops, " "+SymbolArrow+" ")}
	}
	return RenderTable([]string{"", "CHAIN", "HOPS"}, data)
}

// RenderHosts renders ssh config aliases.
func RenderHosts(rows []HostRow) string {
	if len(rows) == 0 {
		return "No hosts in ssh config"
	}

	data := make([][]string, len(rows))
	for i, r := range rows {
		key := ""
		if r.HasKey {
			key = SymbolSuccess
		}
		data[i] = []string{r.Alias, r.Description, key}
	}
	return RenderTable([]string{"ALIAS", "DETAILS", "KEY"}, data)
}
