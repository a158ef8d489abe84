// Package catalog loads the reference product manifest and precomputes the
// fingerprint and keyword set of every entry once at startup.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/example/scandish/internal/features"
	"github.com/example/scandish/internal/ppm"
)

// DefaultBrand is used for manifest entries that do not declare a brand.
const DefaultBrand = "IKEA"

// ManifestEntry is one element of the JSON manifest array.
type ManifestEntry struct {
	Brand          string   `json:"brand,omitempty"`
	Model          string   `json:"model"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	ReferenceImage string   `json:"referenceImage"`
	Keywords       []string `json:"keywords,omitempty"`
}

// Entry is a reference product with its precomputed fingerprint.
type Entry struct {
	Brand          string               `json:"brand"`
	Model          string               `json:"model"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	ReferenceImage string               `json:"referenceImage"`
	Fingerprint    features.Fingerprint `json:"fingerprint"`
	Keywords       []string             `json:"keywords"`
}

// Catalog is an immutable, ordered list of entries plus a keyword to model
// index. It is built once and shared by concurrent readers without locking.
type Catalog struct {
	entries []Entry
	index   map[string][]string
}

// LoadError reports a manifest or reference image that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("catalog: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type options struct {
	baseDir      string
	defaultBrand string
	logger       *zap.Logger
}

// Option configures Load.
type Option func(*options)

// WithBaseDir resolves reference image paths against dir instead of the
// manifest's directory.
func WithBaseDir(dir string) Option {
	return func(o *options) { o.baseDir = dir }
}

// WithDefaultBrand overrides DefaultBrand.
func WithDefaultBrand(brand string) Option {
	return func(o *options) { o.defaultBrand = brand }
}

// WithLogger sets the logger used to report loaded entries.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Load reads the manifest at manifestPath, decodes every reference image and
// returns the resulting catalog. Any failure is returned as a *LoadError and
// no partial catalog is produced.
func Load(manifestPath string, opts ...Option) (*Catalog, error) {
	o := options{
		baseDir:      filepath.Dir(manifestPath),
		defaultBrand: DefaultBrand,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named("catalog")

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &LoadError{Path: manifestPath, Err: err}
	}

	var manifest []ManifestEntry
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, &LoadError{Path: manifestPath, Err: fmt.Errorf("parse manifest: %w", err)}
	}
	if len(manifest) == 0 {
		return nil, &LoadError{Path: manifestPath, Err: fmt.Errorf("manifest has no entries")}
	}

	entries := make([]Entry, 0, len(manifest))
	for i, m := range manifest {
		if strings.TrimSpace(m.Model) == "" {
			return nil, &LoadError{Path: manifestPath, Err: fmt.Errorf("entry %d: model is required", i)}
		}
		if strings.TrimSpace(m.ReferenceImage) == "" {
			return nil, &LoadError{Path: manifestPath, Err: fmt.Errorf("entry %d (%s): referenceImage is required", i, m.Model)}
		}

		imagePath := m.ReferenceImage
		if !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(o.baseDir, imagePath)
		}
		fp, err := fingerprintFile(imagePath)
		if err != nil {
			return nil, &LoadError{Path: imagePath, Err: err}
		}

		brand := m.Brand
		if brand == "" {
			brand = o.defaultBrand
		}
		entries = append(entries, Entry{
			Brand:          brand,
			Model:          m.Model,
			Name:           m.Name,
			Description:    m.Description,
			ReferenceImage: imagePath,
			Fingerprint:    fp,
			Keywords:       Keywords(m.Model, m.Keywords),
		})
		logger.Debug("loaded reference", zap.String("model", m.Model), zap.String("path", imagePath))
	}

	c := New(entries)
	logger.Info("catalog loaded", zap.String("manifest", manifestPath), zap.Int("entries", c.Len()))
	return c, nil
}

// New builds a catalog from already fingerprinted entries.
func New(entries []Entry) *Catalog {
	c := &Catalog{
		entries: make([]Entry, len(entries)),
		index:   make(map[string][]string),
	}
	for i, e := range entries {
		e.Keywords = append([]string(nil), e.Keywords...)
		c.entries[i] = e
		for _, k := range e.Keywords {
			c.index[k] = append(c.index[k], e.Model)
		}
	}
	return c
}

// Keywords returns the lowercase union of model and declared, without
// duplicates and in declaration order.
func Keywords(model string, declared []string) []string {
	seen := make(map[string]struct{}, len(declared)+1)
	out := make([]string, 0, len(declared)+1)
	for _, k := range append([]string{model}, declared...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns a copy of the entries in manifest order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Each calls fn for every entry in manifest order until fn returns false.
// The entry must not be modified.
func (c *Catalog) Each(fn func(*Entry) bool) {
	if c == nil {
		return
	}
	for i := range c.entries {
		if !fn(&c.entries[i]) {
			return
		}
	}
}

// ModelsForKeyword returns the models declaring keyword.
func (c *Catalog) ModelsForKeyword(keyword string) []string {
	if c == nil {
		return nil
	}
	models := c.index[strings.ToLower(strings.TrimSpace(keyword))]
	return append([]string(nil), models...)
}

func fingerprintFile(path string) (features.Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return features.Fingerprint{}, err
	}
	grid, err := ppm.Decode(data)
	if err != nil {
		return features.Fingerprint{}, err
	}
	return features.Extract(grid)
}
