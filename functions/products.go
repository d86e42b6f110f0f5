package functions

import (
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/room4-2/shopchat/messages"
)

const SearchProductsName = "search_products"

const defaultSearchLimit = 6

// SearchProductsDeclaration returns the function declaration for Gemini
func SearchProductsDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name: SearchProductsName,
		Description: "Search the store catalog. Call this whenever you recommend products; " +
			"the matches are shown to the customer as product cards.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "Free-text search such as 'white sneakers' or 'summer dress'",
				},
				"category": {
					Type:        genai.TypeString,
					Description: "Optional category filter, for example Shoes, Dresses, Tops",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Catalog is the in-memory product list the search tool runs against
type Catalog struct {
	products []messages.Product
}

func NewCatalog(products []messages.Product) *Catalog {
	return &Catalog{products: products}
}

// LoadCatalog reads a JSON array of products; an empty path yields the built-in catalog
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	var products []messages.Product
	if err := sonic.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrapf(err, "decode catalog %s", path)
	}
	return NewCatalog(products), nil
}

func (c *Catalog) Len() int {
	return len(c.products)
}

// Search returns products whose name, brand, category or description contain every query term.
// An empty query matches everything in the category.
func (c *Catalog) Search(query, category string, limit int) []messages.Product {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	category = strings.ToLower(strings.TrimSpace(category))

	out := make([]messages.Product, 0, limit)
	for _, p := range c.products {
		if category != "" && strings.ToLower(p.Category) != category {
			continue
		}
		haystack := strings.ToLower(strings.Join([]string{p.Name, p.Brand, p.Category, p.Description}, " "))
		if !containsAll(haystack, terms) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

func containsAll(haystack string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(haystack, t) && !strings.Contains(haystack, strings.TrimSuffix(t, "s")) {
			return false
		}
	}
	return true
}

// DefaultCatalog is the demo store inventory
func DefaultCatalog() *Catalog {
	return NewCatalog([]messages.Product{
		{Code: "1", Name: "Classic Denim Jacket", Brand: "Urban Style", Price: "89.99", Category: "Jackets", URL: "/products/1",
			Description: "Blue denim jacket, sizes XS-XL"},
		{Code: "2", Name: "Floral Summer Dress", Brand: "Bloom & Co", Price: "65.99", Category: "Dresses", URL: "/products/2",
			Description: "Light dress in pink, blue or yellow"},
		{Code: "3", Name: "Casual White Sneakers", Brand: "ComfortStep", Price: "79.99", Category: "Shoes", URL: "/products/3",
			Description: "Everyday sneakers in white, black or gray"},
		{Code: "4", Name: "Leather Crossbody Bag", Brand: "Luxe Leather", Price: "120.00", Category: "Accessories", URL: "/products/4",
			Description: "Brown, black or tan leather bag"},
		{Code: "5", Name: "Striped Cotton T-Shirt", Brand: "Basic Essentials", Price: "29.99", Category: "Tops", URL: "/products/5",
			Description: "Navy, red or green stripes, sizes XS-XXL"},
		{Code: "6", Name: "High-Waisted Jeans", Brand: "Denim Dreams", Price: "95.00", Category: "Bottoms", URL: "/products/6",
			Description: "Blue, black or light blue denim, waist 24-34"},
		{Code: "7", Name: "Wool Blend Coat", Brand: "Winter Warmth", Price: "189.99", Category: "Outerwear", URL: "/products/7",
			Description: "Camel, black or gray winter coat"},
		{Code: "8", Name: "Athletic Running Shoes", Brand: "SportMax", Price: "110.00", Category: "Shoes", URL: "/products/8",
			Description: "Lightweight running shoes in black, white or blue"},
	})
}
