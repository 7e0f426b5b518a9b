// Package render prints card views to a terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"dashboard_cards/internal/card"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	linkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Underline(true)
)

// Terminal implements card.Renderer by writing each view to w.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

func NewTerminal(w io.Writer, format Format) *Terminal {
	return &Terminal{w: w, format: format}
}

func (t *Terminal) RenderComparison(v card.ComparisonView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.format == FormatJSON {
		t.writeJSON(v)
		return
	}

	fmt.Fprintln(t.w, titleStyle.Render(v.Title))
	if v.Error != "" {
		fmt.Fprintln(t.w, errStyle.Render(v.Error))
	}
	tbl := newTable().
		Headers("SERIES", "VALUE").
		Row("Inside now (7d avg)", v.InsideNow).
		Row("Inside last year (7d avg)", v.InsideLastYear).
		Row("Outside now (7d avg)", v.OutsideNow).
		Row("Outside last year (7d avg)", v.OutsideLastYear).
		Row("Corrected difference", v.Difference)
	fmt.Fprintln(t.w, tbl)
	fmt.Fprintln(t.w, dimStyle.Render(v.Note))
	fmt.Fprintln(t.w)
}

func (t *Terminal) RenderPriceList(v card.PriceListView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.format == FormatJSON {
		t.writeJSON(v)
		return
	}

	fmt.Fprintln(t.w, titleStyle.Render(v.Title))
	if v.Empty {
		fmt.Fprintln(t.w, dimStyle.Render(v.EmptyText))
		fmt.Fprintln(t.w)
		return
	}

	tbl := newTable().Headers("ITEM", "TIMESTAMP", "PRICE")
	for _, it := range v.Items {
		label := it.Title
		if it.URL != "" {
			label = strings.TrimSpace(label + "\n" + linkStyle.Render(it.URL))
		}
		if len(it.Prices) == 0 {
			tbl.Row(label, "", dimStyle.Render(it.NoPrices))
			continue
		}
		for i, p := range it.Prices {
			name := ""
			if i == 0 {
				name = label
			}
			price := p.Price
			if i == len(it.Prices)-1 && it.Change != "" {
				price += " " + changeStyle(it.Change).Render("("+it.Change+")")
			}
			tbl.Row(name, p.Timestamp, price)
		}
	}
	fmt.Fprintln(t.w, tbl)
	fmt.Fprintln(t.w)
}

func (t *Terminal) writeJSON(v any) {
	enc := json.NewEncoder(t.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(t.w, errStyle.Render("encoding view: "+err.Error()))
	}
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// changeStyle colours price increases red and decreases green.
func changeStyle(change string) lipgloss.Style {
	switch {
	case strings.HasPrefix(change, "+"):
		return upStyle
	case strings.HasPrefix(change, "-"):
		return downStyle
	default:
		return dimStyle
	}
}
