package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPayURL(t *testing.T) {
	got := payURL(options{server: "http://localhost:8080", sku: "urlsum", model: "openrouter/auto", quoteID: "q_abc"})
	want := "http://localhost:8080/pay?model=openrouter%2Fauto&quoteId=q_abc&sku=urlsum"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	got = payURL(options{server: "http://localhost:8080", sku: "favicon"})
	if got != "http://localhost:8080/pay?sku=favicon" {
		t.Errorf("Unexpected URL %s", got)
	}
}

func TestReadInput(t *testing.T) {
	body, err := readInput("")
	if err != nil || string(body) != "{}" {
		t.Errorf("Expected empty object, got %s (%v)", body, err)
	}

	body, err = readInput(`{"url":"https://example.com"}`)
	if err != nil || string(body) != `{"url":"https://example.com"}` {
		t.Errorf("Expected inline body, got %s (%v)", body, err)
	}

	path := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(path, []byte(`{"prompt":"a cat"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	body, err = readInput("@" + path)
	if err != nil || string(body) != `{"prompt":"a cat"}` {
		t.Errorf("Expected file body, got %s (%v)", body, err)
	}
}

func TestLoadSignerRequiresKey(t *testing.T) {
	t.Setenv("X402PAY_CLIENT_PRIVATE_KEY", "")
	if _, err := loadSigner(""); err == nil {
		t.Error("Expected an error without key material")
	}
}
