package messages

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Product is one entry of the structured payload emitted by the product search tool.
type Product struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Brand       string `json:"brand,omitempty"`
	Price       string `json:"price,omitempty"`
	Dimensions  string `json:"dimensions,omitempty"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// DecodeProducts interprets a structured payload as a product list.
func DecodeProducts(payload json.RawMessage) ([]Product, error) {
	var products []Product
	if err := sonic.Unmarshal(payload, &products); err != nil {
		return nil, err
	}
	return products, nil
}
