package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewAlert_StampsIDAndTime(t *testing.T) {
	a := NewAlert(AlertInfo, KindIndicator, "1m_EMA20", "EMA20 touch", "price near EMA20", 100)
	b := NewAlert(AlertInfo, KindIndicator, "1m_EMA20", "EMA20 touch", "price near EMA20", 100)

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.TS.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	var calls atomic.Int32
	ok := NotifierFunc(func(context.Context, Alert) error { calls.Add(1); return nil })
	errA := errors.New("a down")
	errB := errors.New("b down")
	failA := NotifierFunc(func(context.Context, Alert) error { calls.Add(1); return errA })
	failB := NotifierFunc(func(context.Context, Alert) error { calls.Add(1); return errB })

	m := NewMulti(ok, nil, failA, failB)

	if m.Len() != 3 {
		t.Fatalf("nil notifier should be skipped, len=%d", m.Len())
	}

	err := m.Send(context.Background(), Alert{Title: "x"})
	if calls.Load() != 3 {
		t.Fatalf("expected every backend to be called, got %d", calls.Load())
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := NewMulti().Send(context.Background(), Alert{}); err != nil {
		t.Fatalf("empty multi should not fail: %v", err)
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	alert := NewAlert(AlertWarning, KindPrice, "price_50000.00", "Price alert", "hit 50000", 50010)
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ID != alert.ID || got.Key != "price_50000.00" || got.Price != 50010 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

// telegramAPI fakes the two Bot API methods the notifier uses.
func telegramAPI(t *testing.T, sent *url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/botTOKEN/getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"alerts","username":"alerts_bot"}}`)
		case "/botTOKEN/sendMessage":
			r.ParseForm()
			*sent = r.PostForm
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
}

func TestTelegramNotifier_SendsMarkdown(t *testing.T) {
	var sent url.Values
	srv := telegramAPI(t, &sent)
	defer srv.Close()

	tg, err := newTelegramNotifier("TOKEN", "42", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tg.Send(context.Background(), Alert{Level: AlertCritical, Title: "1m_EMA20", Message: "at 100.5"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.Get("chat_id") != "42" || sent.Get("parse_mode") != "MarkdownV2" {
		t.Fatalf("unexpected form %v", sent)
	}
	if text := sent.Get("text"); !strings.Contains(text, `1m\_EMA20`) || !strings.Contains(text, `100\.5`) {
		t.Fatalf("text not escaped: %q", text)
	}
}

func TestTelegramNotifier_ChannelUsername(t *testing.T) {
	var sent url.Values
	srv := telegramAPI(t, &sent)
	defer srv.Close()

	tg, err := newTelegramNotifier("TOKEN", "@btc_alerts", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Send(context.Background(), Alert{Title: "x"}); err != nil {
		t.Fatal(err)
	}
	if sent.Get("chat_id") != "@btc_alerts" {
		t.Fatalf("unexpected chat_id %q", sent.Get("chat_id"))
	}
}

func TestTelegramNotifier_RequiresCredentials(t *testing.T) {
	if _, err := NewTelegramNotifier("", "42"); err == nil {
		t.Error("empty token should be rejected")
	}
	if _, err := newTelegramNotifier("WRONG", "42", "http://127.0.0.1:1/bot%s/%s"); err == nil {
		t.Error("unreachable API should fail at construction")
	}
}
