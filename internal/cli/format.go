package cli

import (
	"fmt"
	"strings"
	"time"
)

// FormatPrice formats a price with thousands separators. Prices below 10
// keep four decimals.
func FormatPrice(price float64) string {
	negative := price < 0
	if negative {
		price = -price
	}

	decimals := 2
	if price > 0 && price < 10 {
		decimals = 4
	}
	str := fmt.Sprintf("%.*f", decimals, price)
	parts := strings.SplitN(str, ".", 2)

	result := groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatRatio formats a profit/loss ratio as a signed percentage,
// e.g. 0.085 -> "+8.50%".
func FormatRatio(ratio float64) string {
	pct := ratio * 100
	sign := ""
	if pct >= 0.005 {
		sign = "+"
	}
	if pct > -0.005 && pct < 0.005 {
		pct = 0
	}
	return fmt.Sprintf("%s%.2f%%", sign, pct)
}

// FormatConfidence formats a confidence score given on a 0-1 or 0-100 scale.
func FormatConfidence(conf float64) string {
	if conf > 0 && conf <= 1 {
		conf *= 100
	}
	return fmt.Sprintf("%.0f%%", conf)
}

// FormatDateTime formats a timestamp in UTC.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// TruncateString truncates a string to max runes with an ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
