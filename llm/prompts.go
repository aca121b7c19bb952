package llm

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/otodombot/models"
)

const (
	maxMarkupChars      = 12000
	maxDescriptionChars = 1000
)

// AddressPrompt builds the address extraction prompt. The markup is trimmed
// to its first 12000 characters.
func AddressPrompt(hint, description, markup string) string {
	return "Given the raw address snippet and the listing description, " +
		"find the most precise address of the property. " +
		"Respond with only the address or leave empty if unsure.\n\n" +
		"Address snippet: " + hint + "\n\n" +
		"Description:\n" + description + "\n\n" +
		"HTML:\n" + truncate(markup, maxMarkupChars)
}

// RatingPrompt builds the summary prompt from a compact synopsis of l.
func RatingPrompt(l models.Listing) string {
	var b strings.Builder
	b.WriteString("Rate this apartment offer for a buyer looking for a place to live. ")
	b.WriteString("Reply with two or three short sentences covering value for money, location and notable drawbacks.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", l.Title)
	fmt.Fprintf(&b, "Price: %d PLN\n", l.Price)
	if l.Location != "" {
		fmt.Fprintf(&b, "Address: %s\n", l.Location)
	}
	if l.Floor != "" {
		fmt.Fprintf(&b, "Floor: %s\n", l.Floor)
	}
	fmt.Fprintf(&b, "Description: %s", truncate(l.Description, maxDescriptionChars))
	return b.String()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
