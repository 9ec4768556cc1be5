// Package catalog loads the practice content catalog from YAML.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/okian/amep/internal/domain/model"
)

// maxFileSize bounds catalog files read from disk.
const maxFileSize = 4 << 20

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

type fileFormat struct {
	Items []itemYAML `yaml:"items"`
}

type itemYAML struct {
	ItemID        string  `yaml:"item_id" validate:"required"`
	ConceptID     string  `yaml:"concept_id" validate:"required"`
	SubjectArea   string  `yaml:"subject_area" validate:"required"`
	Difficulty    float64 `yaml:"difficulty" validate:"gte=0,lte=1"`
	EstimatedTime float64 `yaml:"estimated_time" validate:"gt=0"`
}

// Catalog is an immutable in-memory content catalog indexed by subject area.
type Catalog struct {
	bySubject map[string][]model.ContentItem
	size      int
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Load reads a catalog file. An empty path selects the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidCatalog, path, info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML. Item ids must be unique.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if len(f.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidCatalog)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	seen := make(map[string]struct{}, len(f.Items))
	c := &Catalog{bySubject: make(map[string][]model.ContentItem)}
	for i, it := range f.Items {
		if err := v.Struct(it); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrInvalidCatalog, i, err)
		}
		if _, dup := seen[it.ItemID]; dup {
			return nil, fmt.Errorf("%w: duplicate item_id %q", ErrInvalidCatalog, it.ItemID)
		}
		seen[it.ItemID] = struct{}{}

		subject := normalize(it.SubjectArea)
		c.bySubject[subject] = append(c.bySubject[subject], model.ContentItem{
			ItemID:        it.ItemID,
			ConceptID:     it.ConceptID,
			SubjectArea:   it.SubjectArea,
			Difficulty:    it.Difficulty,
			EstimatedTime: it.EstimatedTime,
		})
		c.size++
	}
	return c, nil
}

// Items returns a copy of the items for subjectArea, matched case-insensitively.
func (c *Catalog) Items(subjectArea string) []model.ContentItem {
	items := c.bySubject[normalize(subjectArea)]
	return append([]model.ContentItem(nil), items...)
}

// Subjects lists subject areas in sorted order.
func (c *Catalog) Subjects() []string {
	out := make([]string, 0, len(c.bySubject))
	for s := range c.bySubject {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len is the total number of items.
func (c *Catalog) Len() int { return c.size }

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
