package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

type capture struct {
	mu     sync.Mutex
	path   string
	auth   string
	body   sendRequest
	served int
}

func (c *capture) snapshot() (string, string, sendRequest, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.auth, c.body, c.served
}

func graphServer(t *testing.T, c *capture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		c.served++
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recipient_id":"PSID9","message_id":"m_sent"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMessengerSend(t *testing.T) {
	var fb, ig capture
	fbSrv, igSrv := graphServer(t, &fb), graphServer(t, &ig)

	client, err := NewClient(resty.New(), inbound.Messenger, Hosts{Facebook: fbSrv.URL, Instagram: igSrv.URL}, "v19.0")
	if err != nil {
		t.Fatal(err)
	}
	ch := &models.CommunicationChannel{ExternalAccountID: "PAGE1", AccessToken: "EAApage"}
	id, err := client.Send(context.Background(), ch, "PSID9", "Hola")
	if err != nil {
		t.Fatal(err)
	}
	if id != "m_sent" {
		t.Errorf("id = %q", id)
	}
	path, auth, body, _ := fb.snapshot()
	if path != "/v19.0/me/messages" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer EAApage" {
		t.Errorf("auth = %q", auth)
	}
	if body.Recipient.ID != "PSID9" || body.Message.Text != "Hola" || body.MessagingType != "RESPONSE" {
		t.Errorf("body = %+v", body)
	}
	if _, _, _, n := ig.snapshot(); n != 0 {
		t.Errorf("instagram host served %d requests", n)
	}
}

func TestInstagramHostByTokenPrefix(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantHost string
		wantErr  bool
	}{
		{"instagram login token", "IGQVJ-token", "instagram", false},
		{"page token", "EAAGm0-token", "facebook", false},
		{"unknown token", "xyz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fb, ig capture
			fbSrv, igSrv := graphServer(t, &fb), graphServer(t, &ig)
			client, err := NewClient(resty.New(), inbound.Instagram, Hosts{Facebook: fbSrv.URL, Instagram: igSrv.URL}, "v19.0")
			if err != nil {
				t.Fatal(err)
			}
			ch := &models.CommunicationChannel{ExternalAccountID: "17841400000", AccessToken: tt.token}
			_, err = client.Send(context.Background(), ch, "IGSID1", "hola")
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownHost) {
					t.Fatalf("err = %v, want ErrUnknownHost", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			target := &fb
			if tt.wantHost == "instagram" {
				target = &ig
			}
			path, _, body, n := target.snapshot()
			if n != 1 {
				t.Fatalf("%s host served %d requests", tt.wantHost, n)
			}
			if path != "/v19.0/17841400000/messages" {
				t.Errorf("path = %q", path)
			}
			if body.MessagingType != "" {
				t.Errorf("instagram send should not set messaging_type, got %q", body.MessagingType)
			}
		})
	}
}

func TestSendGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"(#10) outside allowed window","type":"OAuthException","code":10}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(resty.New(), inbound.Messenger, Hosts{Facebook: srv.URL, Instagram: srv.URL}, "v19.0")
	_, err := client.Send(context.Background(), &models.CommunicationChannel{AccessToken: "EAA"}, "PSID9", "hola")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fields") != "first_name,last_name,profile_pic" {
			t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"first_name":"Ana","last_name":"López","profile_pic":"https://cdn/p.jpg"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(resty.New(), inbound.Messenger, Hosts{Facebook: srv.URL, Instagram: srv.URL}, "v19.0")
	p, err := client.FetchProfile(context.Background(), &models.CommunicationChannel{AccessToken: "EAA"}, "PSID9")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Ana López" || p.AvatarURL != "https://cdn/p.jpg" {
		t.Errorf("profile = %+v", p)
	}
}
