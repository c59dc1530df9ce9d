package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewWhisperClient_Defaults(t *testing.T) {
	client := NewWhisperClient(WhisperConfig{APIKey: "test-key"})

	if client.model != "whisper-1" {
		t.Errorf("model = %q, want %q", client.model, "whisper-1")
	}
	if client.endpoint != whisperAPIURL {
		t.Errorf("endpoint = %q, want default", client.endpoint)
	}
}

func TestWhisperLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en-US", "en"},
		{"EN-GB", "en"},
		{"zh-TW", "zh"},
		{"", "zh"},
	}
	for _, tt := range tests {
		if got := whisperLanguage(tt.in); got != tt.want {
			t.Errorf("whisperLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhisperClient_Transcribe(t *testing.T) {
	var gotModel, gotLanguage, gotAuth string
	var gotAudio []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotAudio, _ = io.ReadAll(file)
			file.Close()
		}
		_, _ = w.Write([]byte(`{"text":"the panda is here"}`))
	}))
	defer srv.Close()

	client := NewWhisperClient(WhisperConfig{APIKey: "test-key", Endpoint: srv.URL})

	text, err := client.Transcribe(context.Background(), []byte("wav-bytes"), Options{
		Language:    "en-US",
		PhraseHints: []string{"ignored"},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if text != "the panda is here" {
		t.Errorf("text = %q, unexpected", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want en", gotLanguage)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q, want bearer key", gotAuth)
	}
	if string(gotAudio) != "wav-bytes" {
		t.Errorf("audio = %q, want wav-bytes", gotAudio)
	}
}

func TestWhisperClient_Transcribe_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewWhisperClient(WhisperConfig{APIKey: "k", Endpoint: srv.URL})
	_, err := client.Transcribe(context.Background(), []byte("x"), Options{Language: "en-US"})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
