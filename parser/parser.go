package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/shopspring/decimal"
)

// ValidateListing ensures an adapter returned the required fields.
func ValidateListing(l *models.RawListing) error {
	if l == nil {
		return fmt.Errorf("listing is nil")
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("listing missing name")
	}
	if strings.TrimSpace(l.Store) == "" {
		return fmt.Errorf("listing missing store for %s", l.Name)
	}
	if l.Price.IsNegative() {
		return fmt.Errorf("listing has negative price for %s", l.Name)
	}
	if l.Quantity != nil && *l.Quantity < 1 {
		return fmt.Errorf("listing has quantity below one for %s", l.Name)
	}
	return nil
}

// ParsePrice removes currency symbols and thousands separators and returns
// the decimal amount.
func ParsePrice(text string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(text)
	for _, symbol := range []string{"Â£", "£", "$", "€", ","} {
		cleaned = strings.ReplaceAll(cleaned, symbol, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasSuffix(cleaned, "p") {
		pence, err := decimal.NewFromString(strings.TrimSuffix(cleaned, "p"))
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse price %q: %w", text, err)
		}
		return pence.Shift(-2), nil
	}
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("parse price %q: empty", text)
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", text, err)
	}
	return price, nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var (
	multipackPattern = regexp.MustCompile(`(?i)\b(\d+)\s*x\s*(\d+(?:\.\d+)?\s*(?:kg|g|ml|l|cl))\b`)
	countPattern     = regexp.MustCompile(`(?i)\b(\d+)\s+(pack|box|bag|carton|bottle|loaf|package|pint|pints)\b`)
	weightPattern    = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?\s*(?:kg|g|ml|l|cl))\b`)
)

// Measure is the size information inferred from a listing name.
type Measure struct {
	Weight   string
	Quantity int
	Unit     string
}

// ParseMeasure infers weight, quantity and unit from a product display name,
// e.g. "Free Range Eggs 12 pack" or "Chocolate 4x 30g".
func ParseMeasure(name string) Measure {
	var m Measure
	if match := multipackPattern.FindStringSubmatch(name); match != nil {
		m.Quantity, _ = strconv.Atoi(match[1])
		m.Weight = strings.ReplaceAll(match[2], " ", "")
		m.Unit = "pack"
		return m
	}
	if match := countPattern.FindStringSubmatch(name); match != nil {
		unit := strings.ToLower(match[2])
		if unit == "pint" || unit == "pints" {
			m.Unit = "bottle"
		} else {
			m.Quantity, _ = strconv.Atoi(match[1])
			m.Unit = unit
		}
	}
	if match := weightPattern.FindStringSubmatch(name); match != nil {
		m.Weight = strings.ReplaceAll(match[1], " ", "")
	}
	return m
}
