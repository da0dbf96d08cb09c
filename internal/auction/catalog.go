package auction

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/finsim/game-engine/internal/model"
)

// DefaultCatalog returns the built-in luxury items, in display order.
func DefaultCatalog() []model.AuctionItem {
	return []model.AuctionItem{
		{ID: "rolex-daytona", Name: "Rolex Daytona", Price: decimal.NewFromInt(45000), Image: "/images/auction/rolex.jpg"},
		{ID: "banksy-print", Name: "Signed Banksy Print", Price: decimal.NewFromInt(60000), Image: "/images/auction/banksy.jpg"},
		{ID: "vintage-wine", Name: "1982 Bordeaux Case", Price: decimal.NewFromInt(25000), Image: "/images/auction/wine.jpg"},
		{ID: "sports-car", Name: "Classic Sports Car", Price: decimal.NewFromInt(150000), Image: "/images/auction/car.jpg"},
		{ID: "diamond-necklace", Name: "Diamond Necklace", Price: decimal.NewFromInt(80000), Image: "/images/auction/diamond.jpg"},
		{ID: "first-edition", Name: "First Edition Novel", Price: decimal.NewFromInt(15000), Image: "/images/auction/book.jpg"},
	}
}

// catalogFile is the on-disk YAML layout. Prices are strings so they parse
// exactly into decimals.
type catalogFile struct {
	Items []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Price string `yaml:"price"`
		Image string `yaml:"image"`
	} `yaml:"items"`
}

// LoadCatalog reads a catalog from a YAML file:
//
//	items:
//	  - id: rolex-daytona
//	    name: Rolex Daytona
//	    price: "45000"
func LoadCatalog(path string) ([]model.AuctionItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auction catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML catalog bytes. Ids must be unique and prices
// positive.
func ParseCatalog(data []byte) ([]model.AuctionItem, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse auction catalog: %w", err)
	}
	if len(file.Items) == 0 {
		return nil, fmt.Errorf("auction catalog has no items: %w", model.ErrInvalidInput)
	}

	seen := make(map[string]bool, len(file.Items))
	items := make([]model.AuctionItem, 0, len(file.Items))
	for i, it := range file.Items {
		id, name := strings.TrimSpace(it.ID), strings.TrimSpace(it.Name)
		if id == "" || name == "" {
			return nil, fmt.Errorf("catalog item %d: id and name are required: %w", i, model.ErrInvalidInput)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog item %q listed twice: %w", id, model.ErrInvalidInput)
		}
		seen[id] = true

		price, err := decimal.NewFromString(strings.TrimSpace(it.Price))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("catalog item %q: invalid price %q: %w", id, it.Price, model.ErrInvalidInput)
		}
		items = append(items, model.AuctionItem{ID: id, Name: name, Price: price, Image: it.Image})
	}
	return items, nil
}
