package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default stop words filtered out before word-frequency comparison.
// Deployments can extend the set with a YAML file (stop_words_path).
var defaultStopWords = []string{
	"a", "an", "the", "and", "or", "but", "if", "then", "so", "of",
	"to", "in", "on", "at", "for", "with", "by", "from", "as", "is",
	"are", "was", "were", "be", "been", "being", "it", "its", "this",
	"that", "these", "those", "i", "you", "he", "she", "we", "they",
	"me", "him", "her", "us", "them", "my", "your", "our", "their",
	"what", "which", "who", "when", "where", "how", "why", "not", "no",
	"yes", "do", "does", "did", "have", "has", "had", "will", "would",
	"can", "could", "should", "just", "about", "there", "here", "all",
	"any", "some", "more", "very", "up", "down", "out", "get", "got",
	"ok", "okay", "hi", "hello", "thanks", "thank", "please",
}

type stopWordFile struct {
	Words []string `yaml:"words"`
}

// LoadStopWords returns the default set, extended by the optional YAML
// file at path. A missing path is not an error; a malformed file is.
func LoadStopWords(path string) (map[string]bool, error) {
	set := make(map[string]bool, len(defaultStopWords))
	for _, w := range defaultStopWords {
		set[w] = true
	}
	if strings.TrimSpace(path) == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Optional file: no hard failure if missing.
		log.Printf("stop words file skipped path=%s err=%v", path, err)
		return set, nil
	}
	var f stopWordFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stop words yaml: %w", err)
	}
	for _, w := range f.Words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = true
		}
	}
	return set, nil
}

// tokenizeResponse splits response text into lowercase word tokens,
// dropping stop words and tokens shorter than 3 characters.
func tokenizeResponse(text string, stopWords map[string]bool) []string {
	var tokens []string
	for _, t := range strings.Fields(normalizeDescription(text)) {
		if len(t) < 3 || stopWords[t] {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// wordFrequencies counts stop-word-filtered token occurrences across a
// cohort of response texts.
func wordFrequencies(texts []string, stopWords map[string]bool) map[string]int {
	freq := make(map[string]int)
	for _, text := range texts {
		for _, t := range tokenizeResponse(text, stopWords) {
			freq[t]++
		}
	}
	return freq
}
