package catalog

import (
	"fmt"
	"os"
	"strings"

	"rental-service/internal/service"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Entry is one product in a catalog seed file
type Entry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Brand       string `yaml:"brand"`
	ImageURL    string `yaml:"image_url"`
	Quantity    int    `yaml:"quantity"`
	DailyPrice  string `yaml:"daily_price"`
	Active      *bool  `yaml:"active"`
}

// File is the top-level shape of a catalog seed file
type File struct {
	Products []Entry `yaml:"products"`
}

// LoadFile reads a YAML catalog seed file
func LoadFile(path string) ([]service.ProductInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML into product inputs
func Parse(data []byte) ([]service.ProductInput, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Products))
	inputs := make([]service.ProductInput, 0, len(file.Products))
	for i, e := range file.Products {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog entry %d: name is required", i+1)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("catalog entry %d: duplicate product %q", i+1, name)
		}
		seen[key] = true

		price := decimal.Zero
		if e.DailyPrice != "" {
			parsed, err := decimal.NewFromString(e.DailyPrice)
			if err != nil {
				return nil, fmt.Errorf("catalog entry %q: invalid daily_price %q", name, e.DailyPrice)
			}
			price = parsed
		}

		inputs = append(inputs, service.ProductInput{
			Name:        name,
			Description: e.Description,
			Category:    e.Category,
			Brand:       e.Brand,
			ImageURL:    e.ImageURL,
			Quantity:    e.Quantity,
			DailyPrice:  price,
			Active:      e.Active,
		})
	}
	return inputs, nil
}
