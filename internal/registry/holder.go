package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"sweatbot/internal/logger"
)

// ErrNotLoaded is returned when a Holder is asked to reload without a source.
var ErrNotLoaded = errors.New("registry not loaded")

// Holder owns the current registry snapshot. Readers call Current once per
// calculation and keep using that snapshot; a reload swaps the pointer and
// never mutates a published snapshot.
type Holder struct {
	src     Source
	current atomic.Pointer[Registry]
	mu      sync.Mutex // serializes reloads
}

// NewHolder returns a Holder that loads from src. Call Load before use.
func NewHolder(src Source) *Holder {
	return &Holder{src: src}
}

// NewStaticHolder returns a Holder already pointing at reg, with no source to
// reload from.
func NewStaticHolder(reg *Registry) *Holder {
	h := &Holder{}
	h.current.Store(reg)
	return h
}

// Current returns the active snapshot, or nil before the first load.
func (h *Holder) Current() *Registry {
	return h.current.Load()
}

// Load fetches and installs the registry.
func (h *Holder) Load(ctx context.Context) error {
	_, err := h.Reload(ctx)
	return err
}

// Reload fetches the source again and swaps in the new snapshot when it parses
// and validates. On failure the previous snapshot stays active. changed reports
// whether the document differs from the previous snapshot, by version or by
// content.
func (h *Holder) Reload(ctx context.Context) (changed bool, err error) {
	if h.src == nil {
		return false, ErrNotLoaded
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	data, format, err := h.src.Fetch(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching registry from %s: %w", h.src, err)
	}
	next, err := Parse(data, format)
	if err != nil {
		return false, fmt.Errorf("loading registry from %s: %w", h.src, err)
	}

	prev := h.current.Load()
	if prev != nil && prev.Version == next.Version {
		if prev.digest == next.digest {
			return false, nil
		}
		logger.Warn("Registry content changed without a version bump", "source", h.src.String(), "version", next.Version)
	}
	h.current.Store(next)

	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version
	}
	logger.Info("Registry loaded", "source", h.src.String(), "version", next.Version, "previous", prevVersion)
	return true, nil
}

// Swap installs reg directly. reg must already be validated.
func (h *Holder) Swap(reg *Registry) {
	h.current.Store(reg)
}
