package render

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard_cards/internal/card"
)

func TestTerminal_Comparison(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminal(&buf, FormatTable)

	r.RenderComparison(card.ComparisonView{
		Title:           "Temperature Comparison (7 days)",
		InsideNow:       "21.20°C",
		InsideLastYear:  "22.20°C",
		OutsideNow:      "5.00°C",
		OutsideLastYear: "4.00°C",
		Difference:      "2.00°C",
		Note:            "Calculated as (inside_last_year_avg - inside_now_avg) + (outside_now - outside_last_year)",
	})

	out := buf.String()
	assert.Contains(t, out, "Temperature Comparison (7 days)")
	assert.Contains(t, out, "Inside now (7d avg)")
	assert.Contains(t, out, "21.20°C")
	assert.Contains(t, out, "Corrected difference")
	assert.Contains(t, out, "2.00°C")
	assert.Contains(t, out, "Calculated as")
}

func TestTerminal_ComparisonError(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminal(&buf, FormatTable)

	r.RenderComparison(card.ComparisonView{
		Title:      "Living room",
		InsideNow:  "error",
		Difference: "error",
		Error:      "Error: live state sensor.x: timeout",
	})

	assert.Contains(t, buf.String(), "Error: live state sensor.x: timeout")
}

func TestTerminal_PriceList(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminal(&buf, FormatTable)

	r.RenderPriceList(card.PriceListView{
		Title: "Changedetection items",
		Items: []card.PriceItemView{
			{
				Title: "Drill",
				URL:   "https://shop.example/drill",
				Prices: []card.PriceEntryView{
					{Timestamp: "2025-01-04", Price: "98.50"},
					{Timestamp: "2025-01-05", Price: "97.00"},
				},
				Change: "-1.50",
			},
			{Title: "Saw", NoPrices: "No prices stored yet."},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Changedetection items")
	assert.Contains(t, out, "Drill")
	assert.Contains(t, out, "https://shop.example/drill")
	assert.Contains(t, out, "2025-01-05")
	assert.Contains(t, out, "(-1.50)")
	assert.Contains(t, out, "No prices stored yet.")
}

func TestTerminal_EmptyPriceList(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminal(&buf, FormatTable)

	r.RenderPriceList(card.PriceListView{
		Title:     "Changedetection items",
		Empty:     true,
		EmptyText: "No items stored in input_text.changedetection_all.",
	})

	assert.Contains(t, buf.String(), "No items stored in input_text.changedetection_all.")
}

func TestTerminal_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminal(&buf, FormatJSON)

	r.RenderPriceList(card.PriceListView{CardID: "prices", Title: "Changedetection items", DisplaySize: 1})

	var got card.PriceListView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "prices", got.CardID)
	assert.Equal(t, 1, got.DisplaySize)
}
