package messages

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatValue renders a USD amount: whole numbers with thousands separators
// from 1000 up, two decimals from 1 up, and up to seven significant decimals
// below 1.
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Sprintf("%v", v)
	case v >= 1000:
		return printer.Sprintf("%.0f", v)
	case v >= 1:
		return printer.Sprintf("%.2f", v)
	}
	s := fmt.Sprintf("%.7f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// FormatMarketCap renders a market cap as $1.2B, $3.4M or $ plus FormatValue.
func FormatMarketCap(mc float64) string {
	switch {
	case mc >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", mc/1_000_000_000)
	case mc >= 1_000_000:
		return fmt.Sprintf("$%.1fM", mc/1_000_000)
	}
	return "$" + FormatValue(mc)
}

// FormatPrice renders a token price in dollars.
func FormatPrice(p float64) string {
	return "$" + FormatValue(p)
}

// FormatPercentage renders a signed percentage with one decimal.
func FormatPercentage(v float64) string {
	return fmt.Sprintf("%+.1f%%", v)
}

// FormatElapsed renders d in its largest whole unit: days, hours, minutes or
// seconds.
func FormatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs >= 86400:
		return fmt.Sprintf("%dd", secs/86400)
	case secs >= 3600:
		return fmt.Sprintf("%dh", secs/3600)
	case secs >= 60:
		return fmt.Sprintf("%dm", secs/60)
	}
	return fmt.Sprintf("%ds", secs)
}

const progressBarCells = 10

// BondingProgressBar draws a ten-cell bar for a 0-100 bonding progress.
func BondingProgressBar(progress float64) string {
	filled := int(progress / 100 * progressBarCells)
	filled = max(0, min(progressBarCells, filled))
	return fmt.Sprintf("[%s%s] %.1f%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", progressBarCells-filled),
		progress)
}

// ParseHumanAmount parses amounts such as "250k", "1.5m", "2b" or "42300".
func ParseHumanAmount(raw string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'k':
		mult = 1e3
	case 'm':
		mult = 1e6
	case 'b':
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return v * mult, nil
}
