// Package wordlist holds the set of banned tokens used for moderation.
//
// The set is loaded once from a JSON array of strings and cached. Reload
// swaps in a fresh set atomically, so concurrent checks always see either
// the old or the new list, never a mix.
package wordlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

var ErrNoPath = errors.New("wordlist has no backing file")

type set map[string]struct{}

type Wordlist struct {
	path  string
	log   *log.Logger
	words atomic.Pointer[set]
}

// New builds an in-memory wordlist. Entries are normalized the same way
// checked text is.
func New(words ...string) *Wordlist {
	w := &Wordlist{log: log.Default()}
	w.store(words)
	return w
}

// Load reads the wordlist file at path.
func Load(path string, logger *log.Logger) (*Wordlist, error) {
	if logger == nil {
		logger = log.Default()
	}

	w := &Wordlist{path: path, log: logger}
	if err := w.Reload(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Wordlist) Path() string {
	return w.path
}

// Reload re-reads the backing file. On failure the previous set stays in
// place.
func (w *Wordlist) Reload() error {
	if w.path == "" {
		return ErrNoPath
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read wordlist: %w", err)
	}

	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return fmt.Errorf("parse wordlist %s: %w", w.path, err)
	}

	n := w.store(words)
	w.log.Info("wordlist loaded", "path", w.path, "words", n)
	return nil
}

// store keeps single-token entries only. Text is matched token by token,
// so an entry like "foo bar" could never match as a phrase.
func (w *Wordlist) store(words []string) int {
	s := make(set, len(words))
	for _, word := range words {
		tokens := Tokens(word)
		switch len(tokens) {
		case 0:
			continue
		case 1:
			s[tokens[0]] = struct{}{}
		default:
			w.log.Warn("skipping multi-word entry", "entry", word)
		}
	}
	w.words.Store(&s)
	return len(s)
}

func (w *Wordlist) Len() int {
	s := w.words.Load()
	if s == nil {
		return 0
	}
	return len(*s)
}

// Contains reports whether any token of text is a banned word.
func (w *Wordlist) Contains(text string) bool {
	s := w.words.Load()
	if s == nil || len(*s) == 0 {
		return false
	}

	for _, token := range Tokens(text) {
		if _, ok := (*s)[token]; ok {
			return true
		}
	}

	return false
}
