// Package catalog provides the static item list the ledger is seeded with.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/creditshop-go/internal/model"
)

// Entry is one item definition as written in a catalog file
type Entry struct {
	Name        string `yaml:"name"`
	Price       int64  `yaml:"price"`
	Description string `yaml:"description,omitempty"`
}

type file struct {
	Items []Entry `yaml:"items"`
}

var defaultEntries = []Entry{
	{Name: "galeon", Price: 400},
	{Name: "brig", Price: 150},
	{Name: "pistol", Price: 50},
	{Name: "sword", Price: 40},
	{Name: "helmet", Price: 60},
	{Name: "armor", Price: 100},
	{Name: "gundum", Price: 700},
	{Name: "teddy bear", Price: 4000},
}

// Default returns the built-in catalog
func Default() []model.Item {
	items, _ := build(defaultEntries)
	return items
}

// Load reads a YAML catalog file. An empty path returns the built-in catalog.
func Load(path string) ([]model.Item, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	items, err := build(f.Items)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return items, nil
}

// MaxPrice is the highest price a catalog file may set
const MaxPrice = 1_000_000_000_000

// build assigns sequential ids starting at 1, in file order
func build(entries []Entry) ([]model.Item, error) {
	if len(entries) == 0 {
		return nil, errors.New("no items defined")
	}
	items := make([]model.Item, 0, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("item %d: name is required", i+1)
		}
		if e.Price < 0 || e.Price > MaxPrice {
			return nil, fmt.Errorf("item %q: price must be within [0, %d]", name, MaxPrice)
		}
		items = append(items, model.Item{
			ID:          model.ItemID(i + 1),
			Name:        name,
			Price:       e.Price,
			Description: e.Description,
		})
	}
	return items, nil
}
