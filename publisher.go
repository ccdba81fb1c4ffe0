package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Publisher writes an agent's dynamic data document.  The on-disk format is
// a JSON array holding a single object, which is what the bench pages
// parse.  Each write replaces the whole document atomically (write to a
// temp file, then rename), so a reader polling at any moment sees either
// the previous document or the new one, never a torn mix.
//
// The document is single-writer: exactly one agent owns each file.
type Publisher struct {
	path string
}

// NewPublisher creates a publisher for the named document in dir.
func NewPublisher(dir, file string) *Publisher {
	return &Publisher{path: filepath.Join(dir, file)}
}

// Path returns the document's location, mainly for logging.
func (p *Publisher) Path() string {
	return p.path
}

// Publish atomically replaces the document with [doc].
func (p *Publisher) Publish(doc any) error {
	data, err := json.Marshal([]any{doc})
	if err != nil {
		return fmt.Errorf("encoding data document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing data document: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replacing data document: %w", err)
	}
	return nil
}

// Retire removes the document.  Agents call this on termination so that
// downstream clients see a not-found condition instead of stale data.
// Retiring an already absent document is a no-op.
func (p *Publisher) Retire() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing data document: %w", err)
	}
	return nil
}
