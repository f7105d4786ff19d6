package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"claude-bridge/internal/config"
)

// ModelInfo is what the bridge knows about a provider model.
type ModelInfo struct {
	ID string
	// MaxTokens is the default completion budget; zero means none.
	MaxTokens int
	Vision    bool
}

// Catalog maps model ids and aliases to model metadata. Models missing from
// the catalog are still forwarded to the provider; the catalog only supplies
// defaults and capability flags.
type Catalog struct {
	mu      sync.RWMutex
	models  map[string]ModelInfo
	aliases map[string]string
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		models:  make(map[string]ModelInfo),
		aliases: make(map[string]string),
	}
}

// NewCatalogFromConfig registers every configured model and alias.
func NewCatalogFromConfig(cfg config.Config) (*Catalog, error) {
	c := NewCatalog()
	for _, m := range cfg.Models {
		info := ModelInfo{ID: m.ID, MaxTokens: m.MaxTokens, Vision: m.SupportsVision()}
		if err := c.Register(info); err != nil {
			return nil, err
		}
	}

	// sorted so conflicts are reported deterministically
	names := make([]string, 0, len(cfg.Aliases))
	for alias := range cfg.Aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	for _, alias := range names {
		if err := c.Alias(alias, cfg.Aliases[alias]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a model.
func (c *Catalog) Register(info ModelInfo) error {
	if info.ID == "" {
		return errors.New("model id must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.models[info.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, info.ID)
	}
	if _, exists := c.aliases[info.ID]; exists {
		return fmt.Errorf("model %q conflicts with existing alias", info.ID)
	}
	c.models[info.ID] = info
	return nil
}

// Alias makes alias resolve to the registered model target.
func (c *Catalog) Alias(alias, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.models[alias]; exists {
		return fmt.Errorf("alias %q conflicts with existing model", alias)
	}
	if _, exists := c.aliases[alias]; exists {
		return fmt.Errorf("alias %q already registered", alias)
	}
	if _, ok := c.models[target]; !ok {
		return fmt.Errorf("alias %q references unknown model %q", alias, target)
	}
	c.aliases[alias] = target
	return nil
}

// Resolve returns the canonical model id for name. Unknown names are
// returned unchanged.
func (c *Catalog) Resolve(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if target, ok := c.aliases[name]; ok {
		return target
	}
	return name
}

// Lookup returns the metadata for a model id or alias.
func (c *Catalog) Lookup(name string) (ModelInfo, bool) {
	id := c.Resolve(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.models[id]
	return info, ok
}

// Model is Lookup with ErrUnknownModel for names the catalog does not hold.
func (c *Catalog) Model(name string) (ModelInfo, error) {
	info, ok := c.Lookup(name)
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return info, nil
}

// DefaultMaxTokens returns the default completion budget for a model, or
// false when the model has none.
func (c *Catalog) DefaultMaxTokens(name string) (int, bool) {
	info, ok := c.Lookup(name)
	if !ok || info.MaxTokens <= 0 {
		return 0, false
	}
	return info.MaxTokens, true
}

// List returns every registered model sorted by id. Aliases are not listed.
func (c *Catalog) List() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ModelInfo, 0, len(c.models))
	for _, info := range c.models {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
