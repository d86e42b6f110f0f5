package functions

import "google.golang.org/genai"

const StoreInformationName = "get_store_information"

// StoreInformationDeclaration returns the function declaration for Gemini
func StoreInformationDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        StoreInformationName,
		Description: "Get shipping, returns, sizing and contact information for the store",
	}
}

var storeInfo = `
Shipping: free standard shipping on orders over $50, delivered in 3-5 business days.
Express shipping is $12 and arrives in 1-2 business days.
Returns: unworn items can be returned within 30 days for a full refund.
Sizing: our tops and dresses run true to size; jeans follow waist measurements in inches.
Virtual try-on: upload a photo on the try-on page and pick one upper-body and one lower-body garment.
Contact: support@shopchat.example, every day from 9 AM to 9 PM.
`

func StoreInformation() string {
	return storeInfo
}
