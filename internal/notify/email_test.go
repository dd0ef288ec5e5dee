package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestEmailSenderSend(t *testing.T) {
	var (
		mu   sync.Mutex
		auth string
		got  emailRequest
	)
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	e, err := NewEmailSender(resty.New().SetTimeout(5*time.Second), srv.URL, "key-1", "alertas@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Send(context.Background(), "owner@example.com", "Asesor requerido", "<p>hola</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	if auth != "Bearer key-1" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.From != "alertas@example.com" || len(got.To) != 1 || got.To[0] != "owner@example.com" || got.HTML != "<p>hola</p>" {
		t.Errorf("request = %+v", got)
	}
	status = http.StatusUnprocessableEntity
	mu.Unlock()

	if err := e.Send(context.Background(), "owner@example.com", "x", "y"); err == nil {
		t.Error("expected error on 422")
	}
}

func TestNewEmailSenderRequiresConfig(t *testing.T) {
	if _, err := NewEmailSender(resty.New(), "", "key", "from"); err == nil {
		t.Error("expected error without url")
	}
	if _, err := NewEmailSender(resty.New(), "https://api.example.com", "", "from"); err == nil {
		t.Error("expected error without key")
	}
}
