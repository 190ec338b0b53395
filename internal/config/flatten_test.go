package config

import (
	"testing"
)

func TestFlatten_Nested(t *testing.T) {
	m := map[string]any{
		"api": map[string]any{
			"base_url":        "http://localhost:3000/api",
			"timeout_seconds": 120.0,
		},
		"log_level": "info",
	}
	got := Flatten(m)
	if got["api.base_url"] != "http://localhost:3000/api" {
		t.Errorf("expected api.base_url=http://localhost:3000/api, got %v", got["api.base_url"])
	}
	if got["api.timeout_seconds"] != 120.0 {
		t.Errorf("expected api.timeout_seconds=120, got %v", got["api.timeout_seconds"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
	if len(got) != 3 {
		t.Errorf("expected 3 keys, got %d", len(got))
	}
}

func TestFlatten_DeeplyNested(t *testing.T) {
	m := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "deep",
			},
		},
	}
	got := Flatten(m)
	if got["a.b.c"] != "deep" {
		t.Errorf("expected a.b.c=deep, got %v", got["a.b.c"])
	}
	if len(got) != 1 {
		t.Errorf("expected 1 key, got %d", len(got))
	}
}

func TestFlatten_EmptyNestedMap(t *testing.T) {
	got := Flatten(map[string]any{"a": map[string]any{}})
	if len(got) != 0 {
		t.Errorf("expected 0 keys (empty nested map produces nothing), got %d", len(got))
	}
}

func TestUnflatten_Nested(t *testing.T) {
	flat := map[string]any{
		"gateway.listen":      ":3000",
		"gateway.backend_url": "http://127.0.0.1:8000",
		"log_level":           "info",
	}
	got := Unflatten(flat)
	gw, ok := got["gateway"].(map[string]any)
	if !ok {
		t.Fatalf("expected gateway to be map, got %T", got["gateway"])
	}
	if gw["listen"] != ":3000" {
		t.Errorf("expected gateway.listen=:3000, got %v", gw["listen"])
	}
	if gw["backend_url"] != "http://127.0.0.1:8000" {
		t.Errorf("expected gateway.backend_url, got %v", gw["backend_url"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
}

func TestUnflatten_ScalarReplacedByMap(t *testing.T) {
	got := Unflatten(map[string]any{
		"chat":      "oops",
		"chat.mode": "x",
	})
	// Map iteration order decides which write wins; the result must be a map
	// or the scalar, never a panic.
	if got["chat"] == nil {
		t.Error("expected chat key to be present")
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"log_level": "debug",
		"chat": map[string]any{
			"max_query_tokens": 512.0,
			"tokenizer_model":  "gpt-4",
		},
		"telegram": map[string]any{
			"token": "bot-token-abc",
		},
	}

	restored := Unflatten(Flatten(original))

	if restored["log_level"] != original["log_level"] {
		t.Errorf("log_level mismatch: %v != %v", restored["log_level"], original["log_level"])
	}
	chat := restored["chat"].(map[string]any)
	if chat["max_query_tokens"] != 512.0 {
		t.Errorf("chat.max_query_tokens mismatch: %v", chat["max_query_tokens"])
	}
	if chat["tokenizer_model"] != "gpt-4" {
		t.Errorf("chat.tokenizer_model mismatch: %v", chat["tokenizer_model"])
	}
	tg := restored["telegram"].(map[string]any)
	if tg["token"] != "bot-token-abc" {
		t.Errorf("telegram.token mismatch: %v", tg["token"])
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"api.base_url":   "http://localhost:3000/api",
		"telegram.token": "123456:ABCdefGHIjkl",
		"log_level":      "info",
	}
	got := MaskSecrets(flat)

	if got["api.base_url"] != "http://localhost:3000/api" {
		t.Errorf("expected api.base_url unchanged, got %v", got["api.base_url"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
	if got["telegram.token"] != "***Ijkl" {
		t.Errorf("expected telegram.token=***Ijkl, got %v", got["telegram.token"])
	}
	if !IsSecretKey("telegram.token") || IsSecretKey("api.base_url") {
		t.Error("IsSecretKey disagrees with MaskSecrets")
	}
}

func TestMaskSecrets_EdgeValues(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"", ""},
		{"ab", "***ab"},
		{"abcd", "***abcd"},
		{nil, nil},
	}
	for _, tt := range tests {
		got := MaskSecrets(map[string]any{"telegram.token": tt.in})
		if got["telegram.token"] != tt.want {
			t.Errorf("MaskSecrets(%v) = %v, want %v", tt.in, got["telegram.token"], tt.want)
		}
	}
}
