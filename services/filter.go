package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyWord is returned when a banned word is blank after trimming
	ErrEmptyWord = errors.New("banned word must not be empty")
	// ErrBuiltinWord is returned when removing a word that comes from defaults or the rules file
	ErrBuiltinWord = errors.New("word is built in and cannot be removed")
)

// WordStore persists admin-managed banned words
type WordStore interface {
	AddBannedWord(ctx context.Context, word string) (bool, error)
	RemoveBannedWord(ctx context.Context, word string) (bool, error)
	ListBannedWords(ctx context.Context) ([]string, error)
}

// FilterRules is the YAML rules file layout
type FilterRules struct {
	BannedWords []string `yaml:"banned_words"`
}

// LoadFilterRules reads banned words from a YAML file. An empty path yields no words.
func LoadFilterRules(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter rules: %w", err)
	}
	words, err := ParseFilterRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return words, nil
}

// ParseFilterRules decodes the YAML rules layout
func ParseFilterRules(data []byte) ([]string, error) {
	var rules FilterRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse filter rules: %w", err)
	}
	return rules.BannedWords, nil
}

// NormalizeWord lowercases and trims a banned word
func NormalizeWord(word string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" {
		return "", ErrEmptyWord
	}
	return w, nil
}

// Filter matches message text against the banned word set:
// built-in words (defaults and rules file) plus words stored in the database.
type Filter struct {
	store WordStore

	mu      sync.RWMutex
	builtin map[string]struct{}
	stored  []string
	words   []string

	ready atomic.Bool
}

// NewFilter builds a filter from built-in words. Call Reload to merge stored words.
func NewFilter(store WordStore, builtin ...[]string) *Filter {
	f := &Filter{store: store}
	f.SetBuiltin(builtin...)
	return f
}

func normalizeSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, w := range list {
			if n, err := NormalizeWord(w); err == nil {
				set[n] = struct{}{}
			}
		}
	}
	return set
}

// SetBuiltin replaces the built-in words. Stored words are kept.
func (f *Filter) SetBuiltin(lists ...[]string) {
	builtin := normalizeSet(lists...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builtin = builtin
	f.rebuildLocked()
}

func (f *Filter) setStored(stored []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = stored
	f.rebuildLocked()
}

func (f *Filter) rebuildLocked() {
	set := normalizeSet(f.stored)
	for w := range f.builtin {
		set[w] = struct{}{}
	}
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	f.words = words
}

func (f *Filter) isBuiltin(w string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.builtin[w]
	return ok
}

// Reload refreshes the stored part of the word set
func (f *Filter) Reload(ctx context.Context) error {
	if f.store == nil {
		f.ready.Store(true)
		return nil
	}
	stored, err := f.store.ListBannedWords(ctx)
	if err != nil {
		return fmt.Errorf("reload banned words: %w", err)
	}
	f.setStored(stored)
	f.ready.Store(true)
	return nil
}

// Ready reports whether the stored words have been loaded at least once
func (f *Filter) Ready() bool {
	return f.ready.Load()
}

// Match returns the first banned word contained in text, ignoring case
func (f *Filter) Match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}

// Words returns the effective word set in alphabetical order
func (f *Filter) Words() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.words...)
}

// Add stores a word and reloads. It reports whether the word was new.
func (f *Filter) Add(ctx context.Context, word string) (string, bool, error) {
	w, err := NormalizeWord(word)
	if err != nil {
		return "", false, err
	}
	if f.isBuiltin(w) {
		return w, false, nil
	}
	added, err := f.store.AddBannedWord(ctx, w)
	if err != nil {
		return w, false, err
	}
	return w, added, f.Reload(ctx)
}

// Remove deletes a stored word and reloads. It reports whether the word existed.
func (f *Filter) Remove(ctx context.Context, word string) (string, bool, error) {
	w, err := NormalizeWord(word)
	if err != nil {
		return "", false, err
	}
	if f.isBuiltin(w) {
		return w, false, ErrBuiltinWord
	}
	removed, err := f.store.RemoveBannedWord(ctx, w)
	if err != nil {
		return w, false, err
	}
	return w, removed, f.Reload(ctx)
}
