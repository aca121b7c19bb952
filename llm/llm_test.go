package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/otodombot/models"
)

const completionsURL = "https://llm.example.test/v1/chat/completions"

func newTestClient(t *testing.T, transport *httpmock.MockTransport) *Client {
	t.Helper()
	c, err := NewClient("sk-test", "gpt-4o",
		WithBaseURL("https://llm.example.test/v1"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o",
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(body)
}

func TestResolveAddress(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var prompt string
	transport.RegisterResponder("POST", completionsURL, func(req *http.Request) (*http.Response, error) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "gpt-4o" {
			t.Errorf("model = %q", body.Model)
		}
		if len(body.Messages) == 1 {
			prompt = body.Messages[0].Content
		}
		return httpmock.NewStringResponse(http.StatusOK, completion("  \"ul. Puławska 12, Warszawa\"\n")), nil
	})

	c := newTestClient(t, transport)
	raw := models.RawListing{AddressHint: "Mokotów, Warszawa", Description: "Blisko metra Wilanowska"}
	addr, err := c.ResolveAddress(context.Background(), raw, "<html>"+strings.Repeat("x", 20000)+"</html>")
	if err != nil {
		t.Fatalf("ResolveAddress() error = %v", err)
	}
	if addr != "ul. Puławska 12, Warszawa" {
		t.Fatalf("address = %q", addr)
	}
	if !strings.Contains(prompt, "Address snippet: Mokotów, Warszawa") || !strings.Contains(prompt, "Blisko metra Wilanowska") {
		t.Fatalf("prompt missing context: %q", prompt[:200])
	}
	if strings.Contains(prompt, "</html>") {
		t.Fatalf("markup was not trimmed")
	}
}

func TestResolveAddressBlankMeansNoData(t *testing.T) {
	for _, answer := range []string{"", "   \n", "Unknown.", "N/A"} {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder("POST", completionsURL, httpmock.NewStringResponder(http.StatusOK, completion(answer)))

		addr, err := newTestClient(t, transport).ResolveAddress(context.Background(), models.RawListing{}, "")
		if err != nil {
			t.Fatalf("ResolveAddress(%q) error = %v", answer, err)
		}
		if addr != "" {
			t.Fatalf("ResolveAddress(%q) = %q, want empty", answer, addr)
		}
	}
}

func TestRate(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", completionsURL, httpmock.NewStringResponder(http.StatusOK, completion("Good value, quiet street.")))

	notes, err := newTestClient(t, transport).Rate(context.Background(), models.Listing{Title: "Flat", Price: 500000})
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if notes != "Good value, quiet street." {
		t.Fatalf("notes = %q", notes)
	}
}

func TestRateTransportError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", completionsURL, httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":{"message":"boom"}}`))

	if _, err := newTestClient(t, transport).Rate(context.Background(), models.Listing{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRatingPromptTruncatesDescription(t *testing.T) {
	l := models.Listing{
		Title:       "Dwa pokoje",
		Price:       650000,
		Location:    "ul. Prosta 1",
		Description: strings.Repeat("ą", 1500),
	}
	prompt := RatingPrompt(l)
	if !strings.Contains(prompt, "Price: 650000 PLN") || !strings.Contains(prompt, "Address: ul. Prosta 1") {
		t.Fatalf("prompt = %q", prompt)
	}
	if got := strings.Count(prompt, "ą"); got != 1000 {
		t.Fatalf("description runes = %d, want 1000", got)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
