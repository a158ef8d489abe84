package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/example/scandish/internal/ppm"
)

const greyImage = "P3\n2 2\n255\n200 200 200 200 200 200 200 200 200 200 200 200\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadBuildsEntriesAndIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "refs", "kivik.ppm"), greyImage)
	writeFile(t, filepath.Join(dir, "refs", "billy.ppm"), "P3 1 1 255 120 80 40")
	manifest := filepath.Join(dir, "catalog.json")
	writeFile(t, manifest, `[
		{"model": "KIVIK", "name": "Kivik sofa", "description": "3-seat", "referenceImage": "refs/kivik.ppm", "keywords": ["Sofa", "kivik", "couch"]},
		{"model": "BILLY", "brand": "Other", "name": "Billy", "description": "bookcase", "referenceImage": "refs/billy.ppm", "keywords": ["bookcase", "sofa"]}
	]`)

	c, err := Load(manifest)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	entries := c.Entries()
	if got, want := entries[0].Keywords, []string{"kivik", "sofa", "couch"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keywords: got %v want %v", got, want)
	}
	if entries[0].Brand != DefaultBrand || entries[1].Brand != "Other" {
		t.Fatalf("unexpected brands %q %q", entries[0].Brand, entries[1].Brand)
	}
	if entries[0].Fingerprint.GreyRatio != 1 {
		t.Fatalf("expected grey reference, got %+v", entries[0].Fingerprint)
	}
	if got := c.ModelsForKeyword("SOFA"); !reflect.DeepEqual(got, []string{"KIVIK", "BILLY"}) {
		t.Fatalf("reverse index: got %v", got)
	}
}

func TestLoadWithBaseDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "ref.ppm"), greyImage)
	manifest := filepath.Join(root, "data", "ikea", "catalog.json")
	writeFile(t, manifest, `[{"model": "LACK", "name": "Lack", "description": "table", "referenceImage": "data/ref.ppm"}]`)

	c, err := Load(manifest, WithBaseDir(root), WithDefaultBrand("ACME"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Entries()[0].Brand != "ACME" {
		t.Fatalf("expected default brand override")
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "p6.ppm"), "P6 1 1 255 0 0 0")

	cases := map[string]string{
		"malformed json":  `{"model":`,
		"empty manifest":  `[]`,
		"missing image":   `[{"model": "A", "referenceImage": "missing.ppm"}]`,
		"binary image":    `[{"model": "A", "referenceImage": "p6.ppm"}]`,
		"missing model":   `[{"referenceImage": "p6.ppm"}]`,
		"missing ref key": `[{"model": "A"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			manifest := filepath.Join(dir, name+".json")
			writeFile(t, manifest, body)
			_, err := Load(manifest)
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected LoadError, got %v", err)
			}
		})
	}

	t.Run("unreadable manifest", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.json"))
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected LoadError, got %v", err)
		}
	})

	t.Run("format error is preserved", func(t *testing.T) {
		manifest := filepath.Join(dir, "wrapped.json")
		writeFile(t, manifest, `[{"model": "A", "referenceImage": "p6.ppm"}]`)
		_, err := Load(manifest)
		var fmtErr *ppm.FormatError
		if !errors.As(err, &fmtErr) {
			t.Fatalf("expected wrapped FormatError, got %v", err)
		}
	})
}

func TestNewCopiesEntries(t *testing.T) {
	entries := []Entry{{Model: "A", Keywords: []string{"a"}}}
	c := New(entries)
	entries[0].Model = "mutated"
	entries[0].Keywords[0] = "mutated"

	got := c.Entries()[0]
	if got.Model != "A" || got.Keywords[0] != "a" {
		t.Fatalf("catalog shares caller memory: %+v", got)
	}
}
