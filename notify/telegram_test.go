package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/otodombot/models"
)

const testBase = "https://tg.example.test"

func newTestTelegram(t *testing.T) (*Telegram, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", testBase+"/bot123:abc/getMe",
		httpmock.NewStringResponder(http.StatusOK, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Otodom","username":"otodom_test_bot"}}`))
	tg, err := NewTelegram("123:abc",
		WithBaseURL(testBase+"/"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	if err != nil {
		t.Fatalf("new telegram: %v", err)
	}
	return tg, transport
}

const okMessage = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`

func calls(transport *httpmock.MockTransport, method string) int {
	return transport.GetCallCountInfo()["POST "+testBase+"/bot123:abc/"+method]
}

func TestNewTelegramRejectsBadToken(t *testing.T) {
	if _, err := NewTelegram(" "); err == nil {
		t.Fatalf("expected error for empty token")
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", testBase+"/bot123:abc/getMe",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	_, err := NewTelegram("123:abc", WithBaseURL(testBase), WithHTTPClient(&http.Client{Transport: transport}))
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestNewTelegramReadsUsername(t *testing.T) {
	tg, _ := newTestTelegram(t)
	if tg.Username() != "otodom_test_bot" {
		t.Fatalf("username = %q", tg.Username())
	}
}

func TestParseChatIDs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "comma", input: "1,2", want: []string{"1", "2"}},
		{name: "semicolon", input: "1;-1002", want: []string{"1", "-1002"}},
		{name: "spaces", input: "  1   2\t3 ", want: []string{"1", "2", "3"}},
		{name: "mixed with blanks", input: "1, ;2;;,3", want: []string{"1", "2", "3"}},
		{name: "duplicates", input: "1,1 2", want: []string{"1", "2"}},
		{name: "empty", input: "", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChatIDs(tt.input)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("ParseChatIDs(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSendTextFansOut(t *testing.T) {
	tg, transport := newTestTelegram(t)
	var chats []string
	transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMessage", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := req.PostForm.Get("text"); got != "hello" {
			t.Errorf("text = %q", got)
		}
		chats = append(chats, req.PostForm.Get("chat_id"))
		return httpmock.NewStringResponse(http.StatusOK, okMessage), nil
	})

	if err := tg.SendText(context.Background(), []string{"1", "-1002"}, "hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if strings.Join(chats, ",") != "1,-1002" {
		t.Fatalf("chats = %v", chats)
	}
}

func TestSendTextContinuesPastFailedChat(t *testing.T) {
	tg, transport := newTestTelegram(t)
	n := 0
	transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMessage", func(req *http.Request) (*http.Response, error) {
		n++
		if n == 1 {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, okMessage), nil
	})

	err := tg.SendText(context.Background(), []string{"1", "not-a-chat", "2"}, "hi")
	if n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
	if err == nil || !strings.Contains(err.Error(), "chat not found") || !strings.Contains(err.Error(), "invalid chat id") {
		t.Fatalf("expected joined chat errors, got %v", err)
	}
}

func TestSendMediaGroupSinglePhotoUsesSendPhoto(t *testing.T) {
	tg, transport := newTestTelegram(t)
	transport.RegisterResponder("POST", testBase+"/bot123:abc/sendPhoto", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := req.PostForm.Get("photo"); got != "https://img.example.com/1.jpg" {
			t.Errorf("photo = %q", got)
		}
		if got := req.PostForm.Get("caption"); got != "caption" {
			t.Errorf("caption = %q", got)
		}
		return httpmock.NewStringResponse(http.StatusOK, okMessage), nil
	})
	transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMediaGroup",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: media must include 2-10 items"}`))

	if err := tg.SendMediaGroup(context.Background(), []string{"42"}, "caption", []string{"https://img.example.com/1.jpg"}); err != nil {
		t.Fatalf("SendMediaGroup() error = %v", err)
	}
	if calls(transport, "sendPhoto") != 1 || calls(transport, "sendMediaGroup") != 0 {
		t.Fatalf("calls = %v", transport.GetCallCountInfo())
	}
}

type albumItem struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption"`
}

func TestSendMediaGroup(t *testing.T) {
	tg, transport := newTestTelegram(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "p.jpg")
	if err := os.WriteFile(local, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write photo: %v", err)
	}

	transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMediaGroup", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := req.FormValue("chat_id"); got != "42" {
			t.Errorf("chat_id = %q", got)
		}
		var media []albumItem
		if err := json.Unmarshal([]byte(req.FormValue("media")), &media); err != nil {
			t.Errorf("decode media: %v", err)
		}
		if len(media) != 2 {
			t.Errorf("media = %+v", media)
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true,"result":[]}`), nil
		}
		if media[0].Media != "https://img.example.com/1.jpg" || media[0].Caption != "caption" {
			t.Errorf("first media = %+v", media[0])
		}
		if !strings.HasPrefix(media[1].Media, "attach://") || media[1].Caption != "" {
			t.Errorf("second media = %+v", media[1])
		}
		if req.MultipartForm == nil || len(req.MultipartForm.File) != 1 {
			t.Errorf("expected one uploaded file")
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true,"result":[]}`), nil
	})

	err := tg.SendMediaGroup(context.Background(), []string{"42"}, "caption", []string{"https://img.example.com/1.jpg", local})
	if err != nil {
		t.Fatalf("SendMediaGroup() error = %v", err)
	}
	if got := calls(transport, "sendMediaGroup"); got != 1 {
		t.Fatalf("album calls = %d", got)
	}
}

func TestSendMediaGroupLongCaptionFollowsUp(t *testing.T) {
	tests := []struct {
		name    string
		caption string
	}{
		{name: "ascii", caption: strings.Repeat("a", maxCaption+1)},
		// 600 emoji are 600 runes but 1200 UTF-16 code units.
		{name: "emoji", caption: strings.Repeat("🏠", 600)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg, transport := newTestTelegram(t)
			transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMediaGroup", func(req *http.Request) (*http.Response, error) {
				if err := req.ParseForm(); err != nil {
					t.Errorf("parse form: %v", err)
				}
				var media []albumItem
				if err := json.Unmarshal([]byte(req.PostForm.Get("media")), &media); err != nil || len(media) != 2 || media[0].Caption != "" {
					t.Errorf("album should carry no caption, got %+v (%v)", media, err)
				}
				return httpmock.NewStringResponse(http.StatusOK, `{"ok":true,"result":[]}`), nil
			})
			transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMessage",
				httpmock.NewStringResponder(http.StatusOK, okMessage))

			photos := []string{"https://img.example.com/1.jpg", "https://img.example.com/2.jpg"}
			if err := tg.SendMediaGroup(context.Background(), []string{"1"}, tt.caption, photos); err != nil {
				t.Fatalf("SendMediaGroup() error = %v", err)
			}
			if calls(transport, "sendMediaGroup") != 1 || calls(transport, "sendMessage") != 1 {
				t.Fatalf("calls = %v", transport.GetCallCountInfo())
			}
		})
	}
}

func TestSendMediaGroupWithoutPhotosSendsText(t *testing.T) {
	tg, transport := newTestTelegram(t)
	transport.RegisterResponder("POST", testBase+"/bot123:abc/sendMessage",
		httpmock.NewStringResponder(http.StatusOK, okMessage))

	if err := tg.SendMediaGroup(context.Background(), []string{"1"}, "text", nil); err != nil {
		t.Fatalf("SendMediaGroup() error = %v", err)
	}
	if calls(transport, "sendMessage") != 1 {
		t.Fatalf("calls = %v", transport.GetCallCountInfo())
	}
}

func TestClipCountsUTF16(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "fits", in: "abc", limit: 3, want: "abc"},
		{name: "ascii", in: "abcdef", limit: 4, want: "abc…"},
		{name: "emoji pairs", in: "🏠🏠🏠", limit: 4, want: "🏠…"},
		{name: "emoji fits", in: "🏠🏠", limit: 4, want: "🏠🏠"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clip(tt.in, tt.limit)
			if got != tt.want || textLen(got) > tt.limit {
				t.Fatalf("clip(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}

func TestGetUpdates(t *testing.T) {
	tg, transport := newTestTelegram(t)
	transport.RegisterResponder("POST", testBase+"/bot123:abc/getUpdates", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := req.PostForm.Get("offset"); got != "7" {
			t.Errorf("offset = %q", got)
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true,"result":[
			{"update_id": 7, "message": {"message_id": 1, "date": 0, "chat": {"id": -100123, "type": "group"}, "text": "/start"}}
		]}`), nil
	})

	updates, err := tg.GetUpdates(context.Background(), 7, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates() error = %v", err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Chat.ID != -100123 {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestFormatListing(t *testing.T) {
	ok := 25
	l := models.Listing{
		Title:    "Dwa pokoje, Mokotów",
		URL:      "https://www.otodom.pl/pl/oferta/x",
		Price:    1250000,
		Location: "ul. Puławska 12, Warszawa",
		Notes:    "Fair price.",
	}
	text := FormatListing(l, []models.CommuteResult{
		{Destination: "Office", Minutes: &ok},
		{Destination: "Airport"},
	})

	for _, want := range []string{
		"Dwa pokoje, Mokotów",
		"Price: 1 250 000 PLN",
		"Address: ul. Puławska 12, Warszawa",
		"Office: 25 min",
		"Airport: n/a",
		"Fair price.",
		"https://www.otodom.pl/pl/oferta/x",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	for in, want := range map[int64]string{0: "0", 999: "999", 1000: "1 000", 650000: "650 000", 1250000: "1 250 000"} {
		if got := FormatPrice(in); got != want {
			t.Errorf("FormatPrice(%d) = %q, want %q", in, got, want)
		}
	}
}
