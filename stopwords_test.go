package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadStopWordsDefaults(t *testing.T) {
	set, err := LoadStopWords("")
	if err != nil {
		t.Fatalf("LoadStopWords failed: %v", err)
	}
	for _, w := range []string{"the", "and", "please"} {
		if !set[w] {
			t.Fatalf("expected default stop word %q", w)
		}
	}
	if set["guarantee"] {
		t.Fatalf("content word must not be a stop word")
	}
}

func TestLoadStopWordsMissingFileIsNotFatal(t *testing.T) {
	set, err := LoadStopWords(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if !set["the"] {
		t.Fatalf("defaults must survive a missing extension file")
	}
}

func TestLoadStopWordsExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop.yaml")
	if err := os.WriteFile(path, []byte("words:\n  - Branded\n  - '  spaced  '\n"), 0644); err != nil {
		t.Fatalf("write stop words file: %v", err)
	}
	set, err := LoadStopWords(path)
	if err != nil {
		t.Fatalf("LoadStopWords failed: %v", err)
	}
	if !set["branded"] || !set["spaced"] {
		t.Fatalf("expected lowercased trimmed extensions, got branded=%t spaced=%t", set["branded"], set["spaced"])
	}
}

func TestLoadStopWordsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop.yaml")
	if err := os.WriteFile(path, []byte("words: [unterminated"), 0644); err != nil {
		t.Fatalf("write stop words file: %v", err)
	}
	if _, err := LoadStopWords(path); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestTokenizeResponse(t *testing.T) {
	set, err := LoadStopWords("")
	if err != nil {
		t.Fatalf("LoadStopWords failed: %v", err)
	}
	got := tokenizeResponse("We DO guarantee a 30-day refund, ok?", set)
	want := []string{"guarantee", "day", "refund"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenizeResponse = %v, want %v", got, want)
	}
}

func TestWordFrequencies(t *testing.T) {
	set := map[string]bool{"the": true}
	freq := wordFrequencies([]string{"the guarantee holds", "guarantee applies"}, set)
	if freq["guarantee"] != 2 || freq["holds"] != 1 || freq["the"] != 0 {
		t.Fatalf("unexpected frequencies: %v", freq)
	}
}
