// Package pricelist turns the changedetection JSON payload stored in a Home
// Assistant text entity into a list of monitored pages with recent prices.
package pricelist

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MaxDisplaySize caps the card height reported to the dashboard.
const MaxDisplaySize = 10

// Price is one stored observation. Older payloads use ts/raw instead of
// timestamp/price.
type Price struct {
	Timestamp string `json:"timestamp,omitempty"`
	TS        string `json:"ts,omitempty"`
	Price     string `json:"price,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// When returns the timestamp, preferring timestamp over ts.
func (p Price) When() string {
	if p.Timestamp != "" {
		return p.Timestamp
	}
	return p.TS
}

// Value returns the price text, preferring price over raw.
func (p Price) Value() string {
	if p.Price != "" {
		return p.Price
	}
	return p.Raw
}

// Item is one monitored page.
type Item struct {
	Title  string  `json:"title,omitempty"`
	URL    string  `json:"url,omitempty"`
	Prices []Price `json:"prices,omitempty"`
}

// lenientItem tolerates wrongly typed fields in hand-edited payloads.
type lenientItem struct {
	Title  json.RawMessage `json:"title"`
	URL    json.RawMessage `json:"url"`
	Prices json.RawMessage `json:"prices"`
}

// Parse decodes a payload. An empty, invalid or non-array payload is an
// empty list; invalid JSON is logged at warn level.
func Parse(payload string, logger *logrus.Logger) []Item {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		if !json.Valid([]byte(trimmed)) {
			logger.WithError(err).Warn("changedetection payload is not valid JSON")
		}
		return nil
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var li lenientItem
		if err := json.Unmarshal(r, &li); err != nil {
			// non-object entries render as an empty item
			items = append(items, Item{})
			continue
		}
		items = append(items, Item{
			Title:  stringField(li.Title),
			URL:    stringField(li.URL),
			Prices: parsePrices(li.Prices),
		})
	}
	return items
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parsePrices(raw json.RawMessage) []Price {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	prices := make([]Price, 0, len(entries))
	for _, e := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(e, &fields); err != nil || fields == nil {
			prices = append(prices, Price{})
			continue
		}
		prices = append(prices, Price{
			Timestamp: stringField(fields["timestamp"]),
			TS:        stringField(fields["ts"]),
			Price:     stringField(fields["price"]),
			Raw:       stringField(fields["raw"]),
		})
	}
	return prices
}

// Select picks the prices to show: the last stored entry when latestOnly,
// otherwise the trailing max entries in storage order.
func Select(prices []Price, max int, latestOnly bool) []Price {
	if len(prices) == 0 {
		return nil
	}
	if latestOnly {
		return prices[len(prices)-1:]
	}
	if max <= 0 || max >= len(prices) {
		return prices
	}
	return prices[len(prices)-max:]
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizePrice collapses runs of whitespace and trims the result.
func NormalizePrice(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

var amount = regexp.MustCompile(`-?\d[\d.,]*`)

// Amount extracts the numeric amount from a price text such as "€1,299.00"
// or "12,99 zł".
func Amount(s string) (decimal.Decimal, bool) {
	m := strings.TrimRight(amount.FindString(s), ".,")
	if m == "" {
		return decimal.Zero, false
	}
	switch {
	case strings.Contains(m, ",") && strings.Contains(m, "."):
		if strings.LastIndex(m, ",") > strings.LastIndex(m, ".") {
			// 1.299,00
			m = strings.ReplaceAll(m, ".", "")
			m = strings.Replace(m, ",", ".", 1)
		} else {
			m = strings.ReplaceAll(m, ",", "")
		}
	case strings.Contains(m, ","):
		// a single comma followed by exactly three digits groups thousands
		if strings.Count(m, ",") > 1 || len(m)-strings.Index(m, ",") == 4 {
			m = strings.ReplaceAll(m, ",", "")
		} else {
			m = strings.Replace(m, ",", ".", 1)
		}
	case strings.Count(m, ".") > 1:
		m = strings.ReplaceAll(m, ".", "")
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Change returns the signed difference between the last two prices that
// carry an amount, formatted with two decimals ("+1.50", "-0.99", "0.00").
func Change(prices []Price) (string, bool) {
	var last, prev decimal.Decimal
	found := 0
	for i := len(prices) - 1; i >= 0 && found < 2; i-- {
		d, ok := Amount(prices[i].Value())
		if !ok {
			continue
		}
		if found == 0 {
			last = d
		} else {
			prev = d
		}
		found++
	}
	if found < 2 {
		return "", false
	}
	diff := last.Sub(prev)
	if diff.IsPositive() {
		return "+" + diff.StringFixed(2), true
	}
	return diff.StringFixed(2), true
}

// DisplaySize approximates the card height: one row for the header plus one
// per item, capped at MaxDisplaySize.
func DisplaySize(items []Item) int {
	return min(MaxDisplaySize, 1+len(items))
}
