package main

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// Directory maps dialed extensions to ARI endpoints.
type Directory struct {
	mu          sync.RWMutex
	extToTarget map[string]string
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{extToTarget: make(map[string]string)}
}

// Load replaces the directory with the entries of sec. Each key is an
// extension, each value an endpoint or SIP URI.
func (d *Directory) Load(sec *ini.Section) error {
	entries := make(map[string]string, len(sec.Keys()))
	for _, key := range sec.Keys() {
		endpoint, err := toEndpoint(key.String())
		if err != nil {
			return fmt.Errorf("directory entry %s: %w", key.Name(), err)
		}
		entries[normalizeExtension(key.Name())] = endpoint
	}
	d.mu.Lock()
	d.extToTarget = entries
	d.mu.Unlock()
	return nil
}

// Update adds or replaces a single entry.
func (d *Directory) Update(ext, target string) error {
	endpoint, err := toEndpoint(target)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extToTarget[normalizeExtension(ext)] = endpoint
	return nil
}

// Resolve returns the endpoint for ext.
func (d *Directory) Resolve(ext string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	endpoint, ok := d.extToTarget[normalizeExtension(ext)]
	return endpoint, ok
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.extToTarget)
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimSpace(ext))
}
