// Package plans holds the immutable catalog of purchasable access plans.
package plans

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("plan not found")

const day = 24 * time.Hour

// Plan is a purchasable access window. Price is in the major currency unit.
type Plan struct {
	ID       string
	Price    int64
	Duration time.Duration
}

// AmountMinor is the charge amount in the minor currency unit (kobo).
func (p Plan) AmountMinor() int64 {
	return p.Price * 100
}

// Listing is the public shape of a plan on GET /plans.
type Listing struct {
	Price      int64 `json:"price"`
	DurationMs int64 `json:"durationMs"`
}

type Catalog struct {
	plans map[string]Plan
}

func Default() *Catalog {
	c, _ := New(map[string]Plan{
		"6hrs":    {Price: 20, Duration: 6 * time.Hour},
		"24hrs":   {Price: 35, Duration: 24 * time.Hour},
		"1week":   {Price: 50, Duration: 7 * day},
		"2weeks":  {Price: 100, Duration: 14 * day},
		"3weeks":  {Price: 120, Duration: 21 * day},
		"1month":  {Price: 150, Duration: 30 * day},
		"2months": {Price: 250, Duration: 60 * day},
		"6months": {Price: 650, Duration: 180 * day},
		"1year":   {Price: 1200, Duration: 365 * day},
	})
	return c
}

// New copies plans into a catalog. Map keys are authoritative for plan IDs.
func New(plans map[string]Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.New("plan catalog is empty")
	}
	out := make(map[string]Plan, len(plans))
	for id, p := range plans {
		if id == "" {
			return nil, errors.New("plan id must not be empty")
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("plan %q: price must be positive", id)
		}
		if p.Duration <= 0 {
			return nil, fmt.Errorf("plan %q: duration must be positive", id)
		}
		p.ID = id
		out[id] = p
	}
	return &Catalog{plans: out}, nil
}

type fileConfig struct {
	Plans map[string]struct {
		Price    int64         `yaml:"price"`
		Duration time.Duration `yaml:"duration"`
	} `yaml:"plans"`
}

// Load returns the default catalog when path is empty, otherwise the catalog
// described by the YAML file.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse plan catalog %s: %w", path, err)
	}
	plans := make(map[string]Plan, len(cfg.Plans))
	for id, p := range cfg.Plans {
		plans[id] = Plan{Price: p.Price, Duration: p.Duration}
	}
	return New(plans)
}

func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// All returns every plan ordered by duration, then ID.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration != out[j].Duration {
			return out[i].Duration < out[j].Duration
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Catalog) Listing() map[string]Listing {
	out := make(map[string]Listing, len(c.plans))
	for id, p := range c.plans {
		out[id] = Listing{Price: p.Price, DurationMs: p.Duration.Milliseconds()}
	}
	return out
}
