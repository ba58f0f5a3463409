package c3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"ai-tutor/internal/domain"
)

// Catalog is an in-process content source for local runs without a C3 endpoint.
type Catalog struct {
	items map[string]domain.ContentItem
}

// NewCatalog returns a Catalog over items keyed by each of their curriculum
// ids. With no items it serves the built-in sample content.
func NewCatalog(items ...domain.ContentItem) *Catalog {
	if len(items) == 0 {
		items = sampleContent()
	}
	c := &Catalog{items: make(map[string]domain.ContentItem, len(items))}
	for _, it := range items {
		for _, id := range it.CurriculumIDs {
			c.items[id] = it
		}
	}
	return c
}

type catalogEntry struct {
	ContentID   string   `yaml:"content_id"`
	USMOS       []string `yaml:"usmos"`
	Problem     string   `yaml:"problem"`
	Answer      string   `yaml:"answer"`
	Explanation string   `yaml:"explanation"`
}

// LoadCatalog reads a YAML list of content items from path.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("c3: read catalog: %w", err)
	}
	var entries []catalogEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("c3: parse catalog %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("c3: catalog %s has no items", path)
	}

	items := make([]domain.ContentItem, 0, len(entries))
	var errs []error
	for i, e := range entries {
		ids := lo.Compact(lo.Map(e.USMOS, func(id string, _ int) string { return strings.TrimSpace(id) }))
		switch {
		case strings.TrimSpace(e.ContentID) == "":
			errs = append(errs, fmt.Errorf("item %d: content_id is required", i))
		case len(ids) == 0:
			errs = append(errs, fmt.Errorf("item %d (%s): usmos is required", i, e.ContentID))
		case strings.TrimSpace(e.Problem) == "":
			errs = append(errs, fmt.Errorf("item %d (%s): problem is required", i, e.ContentID))
		}
		items = append(items, domain.ContentItem{
			ContentID:     strings.TrimSpace(e.ContentID),
			CurriculumIDs: ids,
			Problem:       e.Problem,
			Answer:        e.Answer,
			Explanation:   e.Explanation,
		})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("c3: catalog %s: %w", path, errors.Join(errs...))
	}
	return NewCatalog(items...), nil
}

func (c *Catalog) Fetch(_ context.Context, curriculumID string) (domain.ContentItem, error) {
	it, ok := c.items[strings.TrimSpace(curriculumID)]
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("c3: %q: %w", curriculumID, domain.ErrContentNotFound)
	}
	it.CurriculumIDs = append([]string(nil), it.CurriculumIDs...)
	return it, nil
}

func sampleContent() []domain.ContentItem {
	return []domain.ContentItem{
		{
			ContentID:     "content123",
			CurriculumIDs: []string{"MATH.ALG.1"},
			Problem:       "Solve for x: x + 5 = 10",
			Answer:        "x = 5",
			Explanation:   "Subtract 5 from both sides to isolate x.",
		},
		{
			ContentID:     "content456",
			CurriculumIDs: []string{"MATH.ALG.2"},
			Problem:       "Solve the system of equations: x + y = 10, x - y = 4",
			Answer:        "x = 7, y = 3",
			Explanation:   "Add the equations to eliminate y and solve for x, then substitute to find y.",
		},
		{
			ContentID:     "content789",
			CurriculumIDs: []string{"SCIENCE.PHYS.1"},
			Problem:       "A ball is thrown upward with an initial velocity of 20 m/s. How high will it go?",
			Answer:        "20.4 meters",
			Explanation:   "Use the formula h = v²/(2g) where g = 9.8 m/s².",
		},
	}
}
