/*
Package format renders amounts for display.

PURPOSE:
  Stateless helpers shared by handlers and notifications. Grouping
  follows US English through golang.org/x/text/message.

FUNCTIONS:
  Money              M$1,234 (whole units, never "-0")
  MoneyWithDecimals  M$12.50
  WithCommas         1,234
  ManaToUSD          $12.34 (100 mana per dollar)
  Percent            50% (one decimal below 2% and above 98%)
  LargeNumber        5.7K, 1.2M, 2.5B (K/M/B/T/Q at powers of 1000)
  ToCamelCase        questBonusPayout
*/
package format

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Moniker prefixes every mana amount.
const Moniker = "M$"

// ManaPerUSD is the fixed exchange rate.
const ManaPerUSD = 100

var printer = message.NewPrinter(language.AmericanEnglish)

// roundHalfUp rounds like JavaScript's Math.round: ties go toward +Inf.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}

// Money floors to whole units. Amounts that round to zero print as M$0.
func Money(amount float64) string {
	n := 0.0
	if roundHalfUp(amount) != 0 {
		n = math.Floor(amount)
	}
	return Moniker + printer.Sprintf("%d", int64(n))
}

func MoneyWithDecimals(amount float64) string {
	return Moniker + strconv.FormatFloat(amount, 'f', 2, 64)
}

// WithCommas floors and groups thousands.
func WithCommas(amount float64) string {
	return printer.Sprintf("%d", int64(math.Floor(amount)))
}

func ManaToUSD(mana float64) string {
	usd := mana / ManaPerUSD
	sign := ""
	if usd < 0 {
		sign = "-"
		usd = -usd
	}
	return sign + "$" + printer.Sprintf("%.2f", usd)
}

// Percent takes a fraction in [0, 1].
func Percent(zeroToOne float64) string {
	decimals := 0
	if zeroToOne < 0.02 || zeroToOne > 0.98 {
		decimals = 1
	}
	return strconv.FormatFloat(zeroToOne*100, 'f', decimals, 64) + "%"
}

// =============================================================================
// LARGE NUMBERS
// =============================================================================

var suffixes = []string{"", "K", "M", "B", "T", "Q"}

// LargeNumber abbreviates with two significant figures.
// 1234567.89 => 1.2M, 5678 => 5.7K.
func LargeNumber(num float64) string {
	return LargeNumberPrecision(num, 2)
}

func LargeNumberPrecision(num float64, sigfigs int) string {
	abs := math.Abs(num)
	switch {
	case abs < 1:
		return toPrecision(num, sigfigs)
	case abs < 100:
		return toPrecision(num, 2)
	case abs < 1000:
		return toPrecision(num, 3)
	}

	i := 0
	for limit := 1000.0; abs >= limit && i < len(suffixes)-1; limit *= 1000 {
		i++
	}
	for {
		s := toPrecision(num/math.Pow(10, float64(3*i)), sigfigs)
		// 999999 rounds to 1.0e+3K; carry into the next suffix.
		if v, err := strconv.ParseFloat(s, 64); err == nil && math.Abs(v) >= 1000 && i < len(suffixes)-1 {
			i++
			continue
		}
		return s + suffixes[i]
	}
}

// toPrecision formats x with p significant digits, switching to
// exponent notation ("1.0e+3") outside [1e-6, 10^p).
func toPrecision(x float64, p int) string {
	if p < 1 {
		p = 1
	}
	if x == 0 {
		return strconv.FormatFloat(0, 'f', p-1, 64)
	}
	mantissa, expStr, _ := strings.Cut(strconv.FormatFloat(x, 'e', p-1, 64), "e")
	exp, _ := strconv.Atoi(expStr)
	if exp < -6 || exp >= p {
		sign := "+"
		if exp < 0 {
			sign, exp = "-", -exp
		}
		return mantissa + "e" + sign + strconv.Itoa(exp)
	}
	return strconv.FormatFloat(x, 'f', p-1-exp, 64)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

var identPrefix = regexp.MustCompile(`^[A-Za-z0-9_]+`)

// ToCamelCase joins space-separated words, capitalizing all but the first,
// and keeps the leading run of letters, digits and underscores.
func ToCamelCase(words string) string {
	var b strings.Builder
	first := true
	for _, w := range strings.Split(words, " ") {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if first {
			b.WriteString(w)
			first = false
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(w[size:])
	}
	return identPrefix.FindString(b.String())
}
