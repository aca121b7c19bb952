package notify

import (
	"strconv"
	"strings"

	"github.com/aluiziolira/otodombot/models"
)

// FormatListing renders the alert text for a newly found listing. Commutes
// are listed in the given order; a missing duration is shown as "n/a".
func FormatListing(l models.Listing, commutes []models.CommuteResult) string {
	var b strings.Builder
	b.WriteString(l.Title)
	b.WriteString("\nPrice: ")
	b.WriteString(FormatPrice(l.Price))
	b.WriteString(" PLN")
	if l.Location != "" {
		b.WriteString("\nAddress: ")
		b.WriteString(l.Location)
	}
	if l.Floor != "" {
		b.WriteString("\nFloor: ")
		b.WriteString(l.Floor)
	}
	for _, c := range commutes {
		b.WriteString("\n")
		b.WriteString(c.Destination)
		b.WriteString(": ")
		if c.Minutes == nil {
			b.WriteString("n/a")
		} else {
			b.WriteString(strconv.Itoa(*c.Minutes))
			b.WriteString(" min")
		}
	}
	if notes := strings.TrimSpace(l.Notes); notes != "" {
		b.WriteString("\n\n")
		b.WriteString(notes)
	}
	b.WriteString("\n\n")
	b.WriteString(l.URL)
	return b.String()
}

// FormatPrice groups digits in threes, e.g. 1250000 becomes "1 250 000".
func FormatPrice(price int64) string {
	digits := strconv.FormatInt(price, 10)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return b.String()
}
