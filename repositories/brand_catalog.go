package repositories

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"vision-adapter-worker/domain"
)

//go:embed brands.json
var bundledBrands []byte

// JSONBrandCatalog is an immutable, case-insensitive set of brand names kept
// in file order.
type JSONBrandCatalog struct {
	brands []string
	index  map[string]struct{}
}

// LoadBrandCatalog reads a JSON array of brand names from path. An empty path
// loads the bundled list.
func LoadBrandCatalog(path string) (*JSONBrandCatalog, error) {
	if strings.TrimSpace(path) == "" {
		log.Info().Msg("BRAND_CATALOG_PATH not set, using bundled brand list")
		return ParseBrandCatalog(bundledBrands)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read brand catalog %s: %w", path, err)
	}
	return ParseBrandCatalog(data)
}

func ParseBrandCatalog(data []byte) (*JSONBrandCatalog, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse brand catalog: %w", err)
	}
	return NewBrandCatalog(names), nil
}

// NewBrandCatalog drops blank names and keeps the first spelling of names
// that share a domain.FoldKey.
func NewBrandCatalog(names []string) *JSONBrandCatalog {
	c := &JSONBrandCatalog{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := domain.FoldKey(n)
		if _, dup := c.index[key]; dup {
			continue
		}
		c.index[key] = struct{}{}
		c.brands = append(c.brands, n)
	}
	return c
}

func (c *JSONBrandCatalog) IsKnownBrand(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, ok := c.index[domain.FoldKey(name)]
	return ok
}

// All returns a copy of the brand names.
func (c *JSONBrandCatalog) All() []string {
	return append([]string(nil), c.brands...)
}
