package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

func TestHostsResolve(t *testing.T) {
	hosts := Hosts{Default: "https://api.green-api.com", Alt: "https://7700.api.greenapi.com/"}
	tests := []struct {
		name     string
		instance string
		stored   string
		want     string
		wantErr  bool
	}{
		{"77 prefix uses alt host", "7700123456", "", "https://7700.api.greenapi.com", false},
		{"77 prefix ignores stored host", "7700123456", "https://api.green-api.com", "https://7700.api.greenapi.com", false},
		{"71 prefix uses default host", "7103123456", "", "https://api.green-api.com", false},
		{"71 prefix ignores stored host", "7103123456", "https://evil.example.com", "https://api.green-api.com", false},
		{"other prefix with known stored host", "1101000001", "https://7700.api.greenapi.com", "https://7700.api.greenapi.com", false},
		{"other prefix with unknown stored host", "1101000001", "https://evil.example.com", "", true},
		{"other prefix without stored host", "1101000001", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := hosts.Resolve(tt.instance, tt.stored)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownHost) {
					t.Fatalf("err = %v, want ErrUnknownHost", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeGateway struct {
	*httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	path string
	body sendMessageRequest
}

func (f *fakeGateway) last() (string, sendMessageRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path, f.body
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	f := &fakeGateway{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&f.body)
		f.mu.Unlock()
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"idMessage":"BAE5OUT"}`))
	}))
	t.Cleanup(f.Close)
	return f
}

func TestSendRoutesByInstancePrefix(t *testing.T) {
	def := newFakeGateway(t)
	alt := newFakeGateway(t)

	client, err := NewClient(resty.New().SetTimeout(5*time.Second), Hosts{Default: def.URL, Alt: alt.URL})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	altChannel := &models.CommunicationChannel{ExternalAccountID: "7700123456", AccessToken: "tok", APIURL: def.URL}
	id, err := client.Send(ctx, altChannel, "5215551234", "hola")
	if err != nil {
		t.Fatalf("Send alt: %v", err)
	}
	if id != "BAE5OUT" {
		t.Errorf("id = %q", id)
	}
	if alt.hits.Load() != 1 || def.hits.Load() != 0 {
		t.Fatalf("hits alt=%d default=%d, want 1/0", alt.hits.Load(), def.hits.Load())
	}
	path, body := alt.last()
	if path != "/waInstance7700123456/sendMessage/tok" {
		t.Errorf("path = %q", path)
	}
	if body.ChatID != "5215551234@c.us" || body.Message != "hola" {
		t.Errorf("body = %+v", body)
	}

	defChannel := &models.CommunicationChannel{ExternalAccountID: "7103123456", AccessToken: "tok", APIURL: alt.URL}
	if _, err := client.Send(ctx, defChannel, "5215551234", "hola"); err != nil {
		t.Fatalf("Send default: %v", err)
	}
	if def.hits.Load() != 1 || alt.hits.Load() != 1 {
		t.Fatalf("hits alt=%d default=%d, want 1/1", alt.hits.Load(), def.hits.Load())
	}

	unknown := &models.CommunicationChannel{ExternalAccountID: "1101000001", AccessToken: "tok", APIURL: "http://127.0.0.1:1"}
	if _, err := client.Send(ctx, unknown, "5215551234", "hola"); !errors.Is(err, ErrUnknownHost) {
		t.Errorf("unknown host err = %v", err)
	}
}

func TestSendReportsProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"instance not authorized"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	client, _ := NewClient(resty.New(), Hosts{Default: srv.URL, Alt: srv.URL})
	_, err := client.Send(context.Background(), &models.CommunicationChannel{ExternalAccountID: "7103000001", AccessToken: "tok"}, "5215551234", "hola")
	if err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/waInstance7103000001/getContactInfo/tok" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Ana","contactName":"Ana López","avatar":"https://pps.whatsapp.net/a.jpg"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(resty.New(), Hosts{Default: srv.URL, Alt: srv.URL})
	p, err := client.FetchProfile(context.Background(), &models.CommunicationChannel{ExternalAccountID: "7103000001", AccessToken: "tok"}, "5215551234")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Ana López" || p.AvatarURL != "https://pps.whatsapp.net/a.jpg" {
		t.Errorf("profile = %+v", p)
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(nil, Hosts{Default: "a", Alt: "b"}); err == nil {
		t.Error("expected error for nil http client")
	}
	if _, err := NewClient(resty.New(), Hosts{Default: "a"}); err == nil {
		t.Error("expected error for missing alt host")
	}
}
