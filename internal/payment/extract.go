package payment

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Longer keywords come first so that they win over their own prefixes.
var (
	amountKeywords = keywordPattern(
		"จำนวนเงิน", "จำนวน", "ยอดเงิน", "ยอดโอน", "amount", "total",
	)
	counterpartyKeywords = keywordPattern(
		"ไปยัง", "ผู้รับ", "ถึง", "to account", "recipient", "to",
	)
	numberPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)
)

// ExtractAmount returns the first number after the earliest amount keyword in
// text. Without any keyword the first number with decimals is used.
func ExtractAmount(text string) (decimal.Decimal, error) {
	rest := text
	if loc := amountKeywords.FindStringIndex(text); loc != nil {
		rest = text[loc[1]:]
		if m := numberPattern.FindString(rest); m != "" {
			return parseAmount(m)
		}
		return decimal.Zero, ErrAmountNotFound
	}

	for _, m := range numberPattern.FindAllString(rest, -1) {
		if strings.Contains(m, ".") {
			return parseAmount(m)
		}
	}
	return decimal.Zero, ErrAmountNotFound
}

// ExtractCounterparty returns the receiving account name: the rest of the line
// holding the earliest counterparty keyword, or the next non-empty line when
// the keyword stands alone.
func ExtractCounterparty(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		loc := counterpartyKeywords.FindStringIndex(line)
		if loc == nil || !wordBoundary(line, loc) {
			continue
		}
		if name := cleanName(line[loc[1]:]); name != "" {
			return name
		}
		for _, next := range lines[i+1:] {
			if name := cleanName(next); name != "" {
				return name
			}
		}
		return ""
	}
	return ""
}

// wordBoundary rejects ASCII keywords that match inside a longer word, such as
// "to" in "total".
func wordBoundary(line string, loc []int) bool {
	isASCIILetter := func(b byte) bool {
		return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
	}
	if loc[0] > 0 && isASCIILetter(line[loc[0]-1]) && isASCIILetter(line[loc[0]]) {
		return false
	}
	if loc[1] < len(line) && isASCIILetter(line[loc[1]-1]) && isASCIILetter(line[loc[1]]) {
		return false
	}
	return true
}

func cleanName(s string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), ":-"))
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}
