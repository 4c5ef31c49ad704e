package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voices" {
			t.Errorf("Expected /voices, got %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("Expected api key header")
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Daniel","category":"premade","labels":{"accent":"british"}},
			{"voice_id":"v2","name":"Bella","category":"premade","preview_url":"https://example.com/v2.mp3"}
		]}`))
	}))
	defer srv.Close()

	voices, err := newTestClient(srv.URL, 0).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices failed: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("Expected 2 voices, got %d", len(voices))
	}
	if voices[0].Name != "Daniel" || voices[0].Labels["accent"] != "british" {
		t.Errorf("Unexpected first voice %+v", voices[0])
	}
	if voices[1].PreviewURL == "" {
		t.Error("Expected preview url on second voice")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"valid", http.StatusOK, true, false},
		{"unauthorized", http.StatusUnauthorized, false, false},
		{"forbidden", http.StatusForbidden, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/user" {
					t.Errorf("Expected /user, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			ok, err := newTestClient(srv.URL, 0).ValidateAPIKey(context.Background())
			if ok != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, ok)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
