package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func tagsJSON(names ...string) []byte {
	var r tagsResponse
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest"))
	}))
	if !New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	srv.Close()

	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() on closed server = true, want false")
	}
}

func TestHasModelMatchesTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "nomic-embed-text:v1.5"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	for _, name := range []string{"llama3.2", "llama3.2:latest", "nomic-embed-text"} {
		if !c.HasModel(context.Background(), name) {
			t.Errorf("HasModel(%q) = false, want true", name)
		}
	}
	if c.HasModel(context.Background(), "llama3") {
		t.Error("HasModel(llama3) = true, want false")
	}
}

func TestChat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"forty-two"}}`))
	}))
	defer srv.Close()

	reply, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "answer?"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "forty-two" {
		t.Errorf("reply = %q", reply)
	}
	if got.Model != "llama3.2" || got.Stream || len(got.Messages) != 2 {
		t.Errorf("request = %+v", got)
	}
}

func TestChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "missing", nil)
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("Chat error = %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	vecs, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", "a", "b")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", "a"); err == nil {
		t.Error("expected error for missing embeddings")
	}
}

func TestEnsureReadyPullsMissing(t *testing.T) {
	pulled := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("llama3.2:latest"))
		case "/api/pull":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			pulled, _ = req["name"].(string)
			w.Write([]byte("{\"status\":\"downloading\",\"total\":100,\"completed\":50}\n{\"status\":\"success\"}\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := EnsureReady(context.Background(), New(srv.URL), "llama3.2", "nomic-embed-text", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if pulled != "nomic-embed-text" {
		t.Errorf("pulled %q, want nomic-embed-text", pulled)
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Errorf("progress output = %q", out.String())
	}
}

func TestEnsureReadyServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	var out bytes.Buffer
	if err := EnsureReady(context.Background(), New(srv.URL), "a", "b", &out); err == nil {
		t.Error("expected error when server is down")
	}
}
