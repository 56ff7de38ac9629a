// Package catalog seeds the service bundle table from a YAML file at startup.
//
// The catalog file is the operator-facing source of truth for what bundles
// exist. Seeding is idempotent: bundles are upserted by ID, and the file's
// order becomes the selection order users see in the bundle prompt.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Molo/internal/molo/store"
)

// entry mirrors one bundle in the YAML catalog file.
type entry struct {
	ID        string `yaml:"id"`
	PriceTier string `yaml:"price_tier"`
	Active    *bool  `yaml:"active"`
	Name      struct {
		EN string `yaml:"en"`
		XH string `yaml:"xh"`
		AF string `yaml:"af"`
	} `yaml:"name"`
	Description struct {
		EN string `yaml:"en"`
		XH string `yaml:"xh"`
		AF string `yaml:"af"`
	} `yaml:"description"`
}

type file struct {
	Bundles []entry `yaml:"bundles"`
}

// SeedFromFile loads the YAML catalog at path and upserts every bundle into
// the store. Returns the number of bundles seeded.
func SeedFromFile(ctx context.Context, s *store.Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Seed(ctx, s, raw)
}

// Seed parses raw YAML catalog content and upserts every bundle. Bundles are
// assigned sort_order by their position in the file.
func Seed(ctx context.Context, s *store.Store, raw []byte) (int, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("catalog: parse: %w", err)
	}

	for i, e := range f.Bundles {
		if e.ID == "" {
			return 0, fmt.Errorf("catalog: bundle %d has no id", i)
		}
		if e.Name.EN == "" {
			return 0, fmt.Errorf("catalog: bundle %s has no English name", e.ID)
		}

		active := true
		if e.Active != nil {
			active = *e.Active
		}

		b := &store.Bundle{
			BundleID:      e.ID,
			NameEN:        e.Name.EN,
			NameXH:        nullable(e.Name.XH),
			NameAF:        nullable(e.Name.AF),
			DescriptionEN: nullable(e.Description.EN),
			DescriptionXH: nullable(e.Description.XH),
			DescriptionAF: nullable(e.Description.AF),
			PriceTier:     e.PriceTier,
			Active:        active,
			SortOrder:     i,
		}
		if err := s.UpsertBundle(ctx, b); err != nil {
			return 0, err
		}
	}
	return len(f.Bundles), nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
