package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"paper-trader/pkg/utils"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative && result != "₹0.00" {
		result = "-" + result
	}
	return result
}

// formatIndianNumber formats an integer string in Indian numbering system.
// Indian system: 1,00,00,000 (1 crore) vs Western: 10,000,000
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right (hundreds)
	result := s[n-3:]
	s = s[:n-3]

	// Then groups of 2 (thousands, lakhs, crores)
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with sign.
func FormatPnL(pnl float64) string {
	formatted := FormatIndianCurrency(pnl)
	if pnl > 0 && formatted != "₹0.00" {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a quantity with Indian numbering. Fractional
// quantities keep up to two decimals.
func FormatQuantity(qty float64) string {
	negative := qty < 0
	qty = math.Abs(qty)

	var out string
	if qty-math.Trunc(qty) < 0.005 {
		out = formatIndianNumber(strconv.FormatFloat(math.Trunc(qty), 'f', 0, 64))
	} else {
		parts := strings.Split(strconv.FormatFloat(qty, 'f', 2, 64), ".")
		out = formatIndianNumber(parts[0]) + "." + parts[1]
	}
	if negative {
		out = "-" + out
	}
	return out
}

// FormatCompact formats a number in compact form (L/Cr).
func FormatCompact(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 10000000:
		return fmt.Sprintf("%.2f Cr", amount/10000000)
	case abs >= 100000:
		return fmt.Sprintf("%.2f L", amount/100000)
	}
	return FormatIndianCurrency(amount)
}

// FormatPrice formats a price with two decimals, or four below ₹10.
func FormatPrice(price float64) string {
	if math.Abs(price) >= 10 || price == 0 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.4f", price)
}

// FormatDateTime formats a time in IST.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05")
}
