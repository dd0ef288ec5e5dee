package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
)

const gatewayBody = `{"typeWebhook":"incomingMessageReceived","instanceData":{"idInstance":7103123456},
	"idMessage":"BAE5","senderData":{"chatId":"5215551234@c.us","senderName":"Ana"},
	"messageData":{"typeMessage":"textMessage","textMessageData":{"textMessage":"Hola"}}}`

const messengerBody = `{"object":"page","entry":[{"id":"PAGE1","messaging":[
	{"sender":{"id":"PSID9"},"recipient":{"id":"PAGE1"},"timestamp":1741618800123,"message":{"mid":"m_abc","text":"Hola"}}]}]}`

type fakeProcessor struct {
	mu     sync.Mutex
	events []inbound.Event
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, evs []inbound.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evs...)
	return f.err
}

type fakeArchiver struct {
	mu       sync.Mutex
	channels []string
}

func (f *fakeArchiver) Archive(_ context.Context, channel string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return "key", nil
}

func newTestWebhooks(t *testing.T, proc *fakeProcessor, arch *fakeArchiver) *Webhooks {
	t.Helper()
	h, err := NewWebhooks(WebhookDeps{
		Processor:       proc,
		Archiver:        arch,
		GatewaySecret:   "gw-secret",
		MetaAppSecret:   "app-secret",
		MetaVerifyToken: "verify-me",
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("s3cret", body)
	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"valid with prefix", sig, true},
		{"valid without prefix", strings.TrimPrefix(sig, "sha256="), true},
		{"wrong secret", Sign("other", body), false},
		{"not hex", "sha256=zz", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidSignature("s3cret", body, tt.header); got != tt.want {
				t.Errorf("ValidSignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGatewayWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		header     map[string]string
		procErr    error
		wantStatus int
		wantEvents int
	}{
		{"hmac signature", gatewayBody, map[string]string{"X-Webhook-Signature": Sign("gw-secret", []byte(gatewayBody))}, nil, http.StatusOK, 1},
		{"bearer token", gatewayBody, map[string]string{"Authorization": "Bearer gw-secret"}, nil, http.StatusOK, 1},
		{"missing signature", gatewayBody, nil, nil, http.StatusUnauthorized, 0},
		{"bad bearer", gatewayBody, map[string]string{"Authorization": "Bearer nope"}, nil, http.StatusUnauthorized, 0},
		{"malformed json", `{"typeWebhook":`, map[string]string{"Authorization": "Bearer gw-secret"}, nil, http.StatusInternalServerError, 0},
		{"processing failure still acknowledged", gatewayBody, map[string]string{"Authorization": "Bearer gw-secret"}, errors.New("db down"), http.StatusOK, 1},
		{"status update is acknowledged", `{"typeWebhook":"outgoingMessageStatus","instanceData":{"idInstance":7103123456}}`,
			map[string]string{"Authorization": "Bearer gw-secret"}, nil, http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.procErr}
			h := newTestWebhooks(t, proc, &fakeArchiver{})
			router := NewRouter(h, Health(func(context.Context) error { return nil }))

			req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			h.Wait()

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if len(proc.events) != tt.wantEvents {
				t.Errorf("processed %d events, want %d", len(proc.events), tt.wantEvents)
			}
			if tt.wantStatus != http.StatusOK && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("error response body = %s", rec.Body)
			}
		})
	}
}

func TestMetaWebhook(t *testing.T) {
	proc := &fakeProcessor{}
	arch := &fakeArchiver{}
	h := newTestWebhooks(t, proc, arch)
	router := NewRouter(h, Health(func(context.Context) error { return nil }))

	post := func(path, body, sig string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if sig != "" {
			req.Header.Set("X-Hub-Signature-256", sig)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		h.Wait()
		return rec.Code
	}

	if code := post("/webhooks/messenger", messengerBody, Sign("app-secret", []byte(messengerBody))); code != http.StatusOK {
		t.Fatalf("signed delivery status = %d", code)
	}
	if len(proc.events) != 1 || proc.events[0].Channel != inbound.Messenger || proc.events[0].AccountID != "PAGE1" {
		t.Errorf("events = %+v", proc.events)
	}
	if len(arch.channels) != 1 || arch.channels[0] != "messenger" {
		t.Errorf("archived = %v", arch.channels)
	}

	if code := post("/webhooks/messenger", messengerBody, ""); code != http.StatusUnauthorized {
		t.Errorf("unsigned delivery status = %d, want 401", code)
	}
	if code := post("/webhooks/instagram", messengerBody, Sign("wrong", []byte(messengerBody))); code != http.StatusUnauthorized {
		t.Errorf("badly signed delivery status = %d, want 401", code)
	}
	if len(proc.events) != 1 {
		t.Errorf("rejected deliveries must not be processed, got %d events", len(proc.events))
	}
}

func TestMetaVerify(t *testing.T) {
	h := newTestWebhooks(t, &fakeProcessor{}, &fakeArchiver{})
	router := NewRouter(h, Health(func(context.Context) error { return nil }))

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"matching token", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/instagram?"+tt.query, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body, tt.wantBody)
			}
			if tt.wantStatus != http.StatusOK && strings.Contains(rec.Body.String(), "12345") {
				t.Error("challenge must not be echoed on failure")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := newTestWebhooks(t, &fakeProcessor{}, &fakeArchiver{})
	tests := []struct {
		name string
		ping Pinger
		want int
	}{
		{"database up", func(context.Context) error { return nil }, http.StatusOK},
		{"database down", func(context.Context) error { return errors.New("refused") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewRouter(h, Health(tt.ping)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `"error"`) {
		t.Errorf("body = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestWebhooks(t, &fakeProcessor{}, &fakeArchiver{})
	rec := httptest.NewRecorder()
	NewRouter(h, Health(func(context.Context) error { return nil })).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
