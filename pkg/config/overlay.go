package config

import (
	"fmt"
	"os"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/i18n"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
)

// Products loads the product catalog overlay, or the built-in catalog when
// PRODUCTS_FILE is unset.
func (c *Config) Products() (quota.Catalog, error) {
	if c.ProductsFile == "" {
		return quota.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(c.ProductsFile)
	if err != nil {
		return nil, fmt.Errorf("load products %q: %w", c.ProductsFile, err)
	}
	cat, err := quota.LoadCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse products %q: %w", c.ProductsFile, err)
	}
	return cat, nil
}

// GovernorOptions builds the quota governor settings. A zero MinInterval
// maps to quota.NoMinInterval.
func (c *Config) GovernorOptions() (quota.Options, error) {
	products, err := c.Products()
	if err != nil {
		return quota.Options{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return quota.Options{}, err
	}
	interval := c.MinInterval
	if interval == 0 {
		interval = quota.NoMinInterval
	}
	return quota.Options{
		ParallelLimit: c.ParallelLimit,
		MinInterval:   interval,
		Location:      loc,
		Catalog:       products,
	}, nil
}

// Localizer loads the locale catalog overlay, or the embedded catalog when
// LOCALES_FILE is unset.
func (c *Config) Localizer() (*i18n.Localizer, error) {
	if c.LocalesFile == "" {
		return i18n.Default(), nil
	}
	data, err := os.ReadFile(c.LocalesFile)
	if err != nil {
		return nil, fmt.Errorf("load locales %q: %w", c.LocalesFile, err)
	}
	l, err := i18n.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse locales %q: %w", c.LocalesFile, err)
	}
	return l, nil
}
