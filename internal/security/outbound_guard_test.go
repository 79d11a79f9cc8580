package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_Timeout(t *testing.T) {
	client := NewOutboundGuard().NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
}

// safeurlはDialerのControlフックで検証するため、標準のTransportではない。
func TestNewSafeClient_HasCustomTransport(t *testing.T) {
	client := NewOutboundGuard().NewSafeClient(5 * time.Second)

	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// httptestのTLSサーバーは127.0.0.1で起動するため、接続は拒否される。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewOutboundGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateBaseURL(t *testing.T) {
	guard := NewOutboundGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"ClickUp API", "https://api.clickup.com/api/v2", false},
		{"public IP", "https://8.8.8.8/api", false},
		{"empty", "", true},
		{"http scheme", "http://api.clickup.com/api/v2", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no host", "https:///api", true},
		{"localhost", "https://localhost/api", true},
		{"loopback", "https://127.0.0.1/api", true},
		{"private 10/8", "https://10.1.2.3/api", true},
		{"private 192.168/16", "https://192.168.0.10/api", true},
		{"metadata", "https://169.254.169.254/latest", true},
		{"ipv6 loopback", "https://[::1]/api", true},
		{"unparseable", "https://%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateBaseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBaseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
