package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newAPIServer runs a fake Bot API answering every sendMessage call with
// handle's response body.
func newAPIServer(t *testing.T, handle func(r *http.Request) string) (*Sender, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(handle(r)))
	}))
	t.Cleanup(srv.Close)

	s := NewSender("test-token")
	s.SetBaseURL(srv.URL)
	return s, srv
}

func TestSendSuccess(t *testing.T) {
	var got *http.Request
	var form map[string][]string
	s, _ := newAPIServer(t, func(r *http.Request) string {
		got = r
		form = r.PostForm
		return `{"ok":true}`
	})

	if err := s.Send(context.Background(), "42", "<b>hello</b>", ModeHTML); err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("no request reached the API")
	}
	if form["chat_id"][0] != "42" || form["text"][0] != "<b>hello</b>" {
		t.Fatalf("form: %v", form)
	}
	if form["parse_mode"][0] != "HTML" {
		t.Fatalf("parse_mode: %v", form["parse_mode"])
	}
	if form["disable_web_page_preview"][0] != "true" {
		t.Fatalf("disable_web_page_preview: %v", form["disable_web_page_preview"])
	}
}

func TestSendPlainOmitsParseMode(t *testing.T) {
	var form map[string][]string
	s, _ := newAPIServer(t, func(r *http.Request) string {
		form = r.PostForm
		return `{"ok":true}`
	})

	if err := s.Send(context.Background(), "42", "hello", ModePlain); err != nil {
		t.Fatal(err)
	}
	if _, ok := form["parse_mode"]; ok {
		t.Fatalf("plain send carried parse_mode: %v", form)
	}
}

func TestSendAPIError(t *testing.T) {
	s, _ := newAPIServer(t, func(*http.Request) string {
		return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
	})

	err := s.Send(context.Background(), "42", "<broken", ModeHTML)
	if err == nil || !strings.Contains(err.Error(), "can't parse entities") {
		t.Fatalf("got %v, want parse entities error", err)
	}
}

func TestSendTruncatesLongMessages(t *testing.T) {
	var text string
	s, _ := newAPIServer(t, func(r *http.Request) string {
		text = r.PostForm.Get("text")
		return `{"ok":true}`
	})

	long := strings.Repeat("x", maxMessageLen+100)
	if err := s.Send(context.Background(), "42", long, ModePlain); err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(text)); got != maxMessageLen {
		t.Fatalf("sent length: got %d, want %d", got, maxMessageLen)
	}
	if !strings.HasSuffix(text, "…") {
		t.Fatal("truncated message missing ellipsis")
	}
}

func TestSendRetriesAfterRateLimit(t *testing.T) {
	calls := 0
	s, _ := newAPIServer(t, func(*http.Request) string {
		calls++
		if calls == 1 {
			return `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`
		}
		return `{"ok":true}`
	})

	if err := s.Send(context.Background(), "42", "hello", ModePlain); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("API calls: got %d, want 2", calls)
	}
}

func TestSendGivesUpAfterSecondRateLimit(t *testing.T) {
	calls := 0
	s, _ := newAPIServer(t, func(*http.Request) string {
		calls++
		return `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`
	})

	err := s.Send(context.Background(), "42", "hello", ModePlain)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("got %v, want 429 error", err)
	}
	if calls != 2 {
		t.Fatalf("API calls: got %d, want 2", calls)
	}
}
