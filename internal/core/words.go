package core

import (
	"math"
	"strings"
)

var (
	onesWords = []string{"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
		"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen", "Seventeen",
		"Eighteen", "Nineteen"}
	tensWords  = []string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety"}
	digitWords = []string{"Zero", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine"}
)

// MarksInWords spells marks the way they are printed on mark sheets:
// 75 is "Seventy Five", 42.5 is "Forty Two Point Five" and 42.05 is
// "Forty Two Point Zero Five". Marks are rounded to two decimals first.
func MarksInWords(v float64) string {
	v = RoundMarks(math.Abs(v))
	cents := int(math.Round(v * 100))
	whole, frac := cents/100, cents%100

	var parts []string
	if whole == 0 {
		parts = append(parts, "Zero")
	} else {
		parts = append(parts, integerWords(whole)...)
	}

	if frac > 0 {
		parts = append(parts, "Point", digitWords[frac/10])
		if frac%10 != 0 {
			parts = append(parts, digitWords[frac%10])
		}
	}
	return strings.Join(parts, " ")
}

func integerWords(n int) []string {
	var parts []string
	if n >= 1000 {
		parts = append(parts, integerWords(n/1000)...)
		parts = append(parts, "Thousand")
		n %= 1000
	}
	if n >= 100 {
		parts = append(parts, onesWords[n/100], "Hundred")
		n %= 100
	}
	if n >= 20 {
		parts = append(parts, tensWords[n/10])
		n %= 10
	}
	if n > 0 {
		parts = append(parts, onesWords[n])
	}
	return parts
}
