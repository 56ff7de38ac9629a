package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Bundle is a named service offering a user can select.
type Bundle struct {
	BundleID      string
	NameEN        string
	NameXH        sql.NullString
	NameAF        sql.NullString
	DescriptionEN sql.NullString
	DescriptionXH sql.NullString
	DescriptionAF sql.NullString
	PriceTier     string
	Active        bool
	SortOrder     int
}

// Name returns the bundle's display name in the given language, falling back
// to English.
func (b *Bundle) Name(lang string) string {
	switch lang {
	case "xh":
		if b.NameXH.Valid && b.NameXH.String != "" {
			return b.NameXH.String
		}
	case "af":
		if b.NameAF.Valid && b.NameAF.String != "" {
			return b.NameAF.String
		}
	}
	return b.NameEN
}

// Description returns the bundle's description in the given language, falling
// back to English. May be empty.
func (b *Bundle) Description(lang string) string {
	switch lang {
	case "xh":
		if b.DescriptionXH.Valid && b.DescriptionXH.String != "" {
			return b.DescriptionXH.String
		}
	case "af":
		if b.DescriptionAF.Valid && b.DescriptionAF.String != "" {
			return b.DescriptionAF.String
		}
	}
	if b.DescriptionEN.Valid {
		return b.DescriptionEN.String
	}
	return ""
}

// ListActiveBundles returns all active bundles in catalog order.
//
// The order is stable (sort_order, then bundle_id) because numeric bundle
// selection is positional: "1" selects the first bundle of this list.
func (s *Store) ListActiveBundles(ctx context.Context) ([]*Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bundle_id, bundle_name_en, bundle_name_xh, bundle_name_af,
		       description_en, description_xh, description_af,
		       price_tier, active, sort_order
		FROM service_bundles
		WHERE active = 1
		ORDER BY sort_order ASC, bundle_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*Bundle
	for rows.Next() {
		b := &Bundle{}
		var active int
		if err := rows.Scan(
			&b.BundleID, &b.NameEN, &b.NameXH, &b.NameAF,
			&b.DescriptionEN, &b.DescriptionXH, &b.DescriptionAF,
			&b.PriceTier, &active, &b.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		b.Active = active != 0
		bundles = append(bundles, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bundles: %w", err)
	}

	return bundles, nil
}

// UpsertBundle inserts or replaces a bundle definition. Used by the catalog
// seeder at startup.
func (s *Store) UpsertBundle(ctx context.Context, b *Bundle) error {
	active := 0
	if b.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_bundles (bundle_id, bundle_name_en, bundle_name_xh, bundle_name_af,
			description_en, description_xh, description_af, price_tier, active, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_id) DO UPDATE SET
			bundle_name_en = excluded.bundle_name_en,
			bundle_name_xh = excluded.bundle_name_xh,
			bundle_name_af = excluded.bundle_name_af,
			description_en = excluded.description_en,
			description_xh = excluded.description_xh,
			description_af = excluded.description_af,
			price_tier = excluded.price_tier,
			active = excluded.active,
			sort_order = excluded.sort_order
	`, b.BundleID, b.NameEN, b.NameXH, b.NameAF,
		b.DescriptionEN, b.DescriptionXH, b.DescriptionAF,
		b.PriceTier, active, b.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert bundle %s: %w", b.BundleID, err)
	}
	return nil
}
