package impersonate

import (
	"context"
	"sync"
)

// CredentialHolder is where the client keeps the credentials it currently
// acts with (cookie jar, token cache, keychain).
type CredentialHolder interface {
	// Current returns the active bundle, or nil when signed out.
	Current(ctx context.Context) (*CredentialBundle, error)
	Apply(ctx context.Context, bundle CredentialBundle) error
	Clear(ctx context.Context) error
}

// MemoryCredentialHolder keeps credentials in process memory.
type MemoryCredentialHolder struct {
	mu       sync.RWMutex
	current  *CredentialBundle
	onChange func(*CredentialBundle)
}

var _ CredentialHolder = (*MemoryCredentialHolder)(nil)

// NewMemoryCredentialHolder returns a holder seeded with initial, which may be nil.
func NewMemoryCredentialHolder(initial *CredentialBundle) *MemoryCredentialHolder {
	return &MemoryCredentialHolder{current: initial.Clone()}
}

// OnChange registers fn to be called after every Apply or Clear.
func (h *MemoryCredentialHolder) OnChange(fn func(*CredentialBundle)) *MemoryCredentialHolder {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
	return h
}

func (h *MemoryCredentialHolder) Current(ctx context.Context) (*CredentialBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Clone(), nil
}

func (h *MemoryCredentialHolder) Apply(ctx context.Context, bundle CredentialBundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bundle.IsZero() {
		return ErrNoCredentials
	}
	h.mu.Lock()
	h.current = bundle.Clone()
	fn, current := h.onChange, h.current.Clone()
	h.mu.Unlock()

	if fn != nil {
		fn(current)
	}
	return nil
}

func (h *MemoryCredentialHolder) Clear(ctx context.Context) error {
	h.mu.Lock()
	h.current = nil
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
	return nil
}
