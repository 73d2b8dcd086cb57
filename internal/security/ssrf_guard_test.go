package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOutboundGuard_ClientTimeout(t *testing.T) {
	guard := NewOutboundGuard(5 * time.Second)
	client := guard.Client()
	if client == nil {
		t.Fatal("Client() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
}

// safeurlはnet.DialerのControlフックでIPアドレス検証を行うため、
// Transportが標準のhttp.DefaultTransportではないことを確認する。
func TestOutboundGuard_ClientHasTransport(t *testing.T) {
	client := NewOutboundGuard(5 * time.Second).Client()

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestOutboundGuard_ClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewOutboundGuard(5 * time.Second).Client()

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestOutboundGuard_ValidateURL_Allowed(t *testing.T) {
	guard := NewOutboundGuard(time.Second)

	for _, u := range []string{
		"https://cognito-idp.eu-north-1.amazonaws.com/eu-north-1_abc",
		"https://accounts.google.com",
		"https://8.8.8.8/realms/main",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

func TestOutboundGuard_ValidateURL_Rejected(t *testing.T) {
	guard := NewOutboundGuard(time.Second)

	for _, u := range []string{
		"",
		"http://idp.example.com",
		"ftp://idp.example.com",
		"https://",
		"https://localhost/realms/main",
		"https://127.0.0.1",
		"https://10.0.0.5",
		"https://192.168.1.1",
		"https://169.254.169.254/latest/meta-data",
		"https://[::1]/",
		"://bad",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", u)
			}
		})
	}
}
