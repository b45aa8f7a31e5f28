// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package adhkar holds the built-in catalog of adhkar and the daily verse
// and hadith rotation.
package adhkar

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

//go:embed catalog.json
var catalogJSON []byte

// ErrNotFound is returned for unknown category or item ids.
var ErrNotFound = errors.New("adhkar: not found")

// Item is one remembrance with its recommended repetition count.
type Item struct {
	ID          string `json:"id"`
	Arabic      string `json:"arabic"`
	Translation string `json:"translation"`
	Repetitions int    `json:"repetitions"`
	Source      string `json:"source"`
}

// ShareText is the plain-text form used when sharing an item.
func (i Item) ShareText() string {
	return fmt.Sprintf("%s\n\n%s\n\nSource: %s", i.Arabic, i.Translation, i.Source)
}

type Category struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Adhkar []Item `json:"adhkar"`
}

type Verse struct {
	ID          int    `json:"id"`
	Arabic      string `json:"arabic"`
	Translation string `json:"translation"`
	Source      string `json:"source"`
}

type Hadith struct {
	ID       int    `json:"id"`
	Arabic   string `json:"arabic,omitempty"`
	Text     string `json:"text"`
	Narrator string `json:"narrator"`
	Source   string `json:"source"`
}

// Catalog is read-only once loaded.
type Catalog struct {
	Categories []Category `json:"categories"`
	Verses     []Verse    `json:"verses"`
	Hadiths    []Hadith   `json:"hadiths"`
}

// Load parses and validates the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogJSON)
}

// Parse decodes a catalog and checks that ids are unique and every item
// is repeated at least once.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode adhkar catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Categories) == 0 {
		return errors.New("adhkar catalog has no categories")
	}
	if len(c.Verses) == 0 || len(c.Hadiths) == 0 {
		return errors.New("adhkar catalog needs at least one verse and one hadith")
	}
	cats := map[string]bool{}
	items := map[string]string{}
	for _, cat := range c.Categories {
		if cat.ID == "" || cats[cat.ID] {
			return fmt.Errorf("adhkar category id %q is empty or duplicated", cat.ID)
		}
		cats[cat.ID] = true
		for _, it := range cat.Adhkar {
			if it.ID == "" {
				return fmt.Errorf("adhkar category %q has an item without id", cat.ID)
			}
			if other, ok := items[it.ID]; ok {
				return fmt.Errorf("adhkar item %q appears in %q and %q", it.ID, other, cat.ID)
			}
			items[it.ID] = cat.ID
			if it.Repetitions < 1 {
				return fmt.Errorf("adhkar item %q: repetitions must be >= 1", it.ID)
			}
		}
	}
	return nil
}

// Category returns the category with the given id.
func (c *Catalog) Category(id string) (Category, error) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, nil
		}
	}
	return Category{}, fmt.Errorf("category %q: %w", id, ErrNotFound)
}

// Item returns an item and the id of its category.
func (c *Catalog) Item(id string) (Item, string, error) {
	for _, cat := range c.Categories {
		for _, it := range cat.Adhkar {
			if it.ID == id {
				return it, cat.ID, nil
			}
		}
	}
	return Item{}, "", fmt.Errorf("item %q: %w", id, ErrNotFound)
}

// Daily is the content shown for one calendar day.
type Daily struct {
	Date   string `json:"date"`
	Verse  Verse  `json:"verse"`
	Hadith Hadith `json:"hadith"`
}

// DailyFor picks the verse and hadith for the calendar day of t in t's own
// location. The choice is stable for the whole day and rotates through
// the catalog one entry per day.
func (c *Catalog) DailyFor(t time.Time) Daily {
	y, m, d := t.Date()
	day := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
	return Daily{
		Date:   t.Format(time.DateOnly),
		Verse:  c.Verses[mod(day, len(c.Verses))],
		Hadith: c.Hadiths[mod(day, len(c.Hadiths))],
	}
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
