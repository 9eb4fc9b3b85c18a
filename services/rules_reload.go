package services

import (
	"bytes"
	"context"
	"log"
	"os"
	"time"
)

// RulesReloader re-reads the filter rules file and swaps the built-in words
// when its contents change, so rules can be edited without a restart.
type RulesReloader struct {
	filter   *Filter
	defaults []string
	path     string
	interval time.Duration
	lastSig  []byte
}

// NewRulesReloader watches path, merging its words with defaults
func NewRulesReloader(filter *Filter, defaults []string, path string, interval time.Duration) *RulesReloader {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RulesReloader{filter: filter, defaults: defaults, path: path, interval: interval}
}

// Check reloads the rules when the file changed and reports whether it did.
// A file that cannot be read or parsed leaves the current words in place.
func (r *RulesReloader) Check() bool {
	if r.path == "" {
		return false
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		log.Printf("⚠️ Filter rules %s unreadable: %v", r.path, err)
		return false
	}
	if r.lastSig != nil && bytes.Equal(data, r.lastSig) {
		return false
	}

	words, err := ParseFilterRules(data)
	if err != nil {
		log.Printf("⚠️ Filter rules not reloaded: %v", err)
		return false
	}
	r.filter.SetBuiltin(r.defaults, words)
	r.lastSig = data
	log.Printf("🔄 Filter rules reloaded (%d words from %s)", len(words), r.path)
	return true
}

// Run checks the file on every tick until ctx is cancelled
func (r *RulesReloader) Run(ctx context.Context) {
	if r.path == "" {
		return
	}
	r.Check()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Check()
		}
	}
}
