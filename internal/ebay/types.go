package ebay

import "encoding/json"

// ItemSummary represents a single item from the eBay Browse API search response.
type ItemSummary struct {
	ItemID          string           `json:"itemId"`
	Title           string           `json:"title"`
	Price           ItemPrice        `json:"price"`
	ItemWebURL      string           `json:"itemWebUrl"`
	Image           *ItemImage       `json:"image,omitempty"`
	Seller          *ItemSeller      `json:"seller,omitempty"`
	Condition       string           `json:"condition"`
	ConditionID     string           `json:"conditionId"`
	BuyingOptions   []string         `json:"buyingOptions"`
	ShippingOptions []ShippingOption `json:"shippingOptions,omitempty"`
	ItemEndDate     string           `json:"itemEndDate,omitempty"`
	Categories      []ItemCategory   `json:"categories,omitempty"`

	TopRatedBuyingExperience bool `json:"topRatedBuyingExperience"`
}

// ItemPrice holds eBay price information.
type ItemPrice struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// ItemImage holds eBay image information.
type ItemImage struct {
	ImageURL string `json:"imageUrl"`
}

// ItemSeller holds eBay seller information.
type ItemSeller struct {
	Username           string `json:"username"`
	FeedbackScore      int    `json:"feedbackScore"`
	FeedbackPercentage string `json:"feedbackPercentage"`
}

// ShippingOption holds eBay shipping information.
type ShippingOption struct {
	ShippingCost *ItemPrice `json:"shippingCost,omitempty"`
}

// ItemCategory holds eBay category information.
type ItemCategory struct {
	CategoryID string `json:"categoryId"`
}

// Item is the detail view returned by the Browse getItem call.
type Item struct {
	ItemID           string           `json:"itemId"`
	Title            string           `json:"title"`
	ShortDescription string           `json:"shortDescription,omitempty"`
	Price            ItemPrice        `json:"price"`
	CategoryPath     string           `json:"categoryPath,omitempty"`
	CategoryID       string           `json:"categoryId,omitempty"`
	Condition        string           `json:"condition"`
	ConditionID      string           `json:"conditionId"`
	Brand            string           `json:"brand,omitempty"`
	ItemWebURL       string           `json:"itemWebUrl"`
	Image            *ItemImage       `json:"image,omitempty"`
	AdditionalImages []ItemImage      `json:"additionalImages,omitempty"`
	Seller           *ItemSeller      `json:"seller,omitempty"`
	ItemLocation     *ItemLocation    `json:"itemLocation,omitempty"`
	ShippingOptions  []ShippingOption `json:"shippingOptions,omitempty"`
	BuyingOptions    []string         `json:"buyingOptions"`
	ItemEndDate      string           `json:"itemEndDate,omitempty"`
}

// ItemLocation holds where an item ships from.
type ItemLocation struct {
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CategorySuggestion is one Taxonomy API category match.
type CategorySuggestion struct {
	Category struct {
		CategoryID   string `json:"categoryId"`
		CategoryName string `json:"categoryName"`
	} `json:"category"`
	CategoryTreeNodeAncestors []struct {
		CategoryID   string `json:"categoryId"`
		CategoryName string `json:"categoryName"`
	} `json:"categoryTreeNodeAncestors,omitempty"`
	CategoryTreeNodeLevel int    `json:"categoryTreeNodeLevel"`
	Relevancy             string `json:"relevancy,omitempty"`
}

// InventoryItem is a seller inventory record keyed by SKU.
type InventoryItem struct {
	SKU          string          `json:"sku,omitempty"`
	Locale       string          `json:"locale,omitempty"`
	Condition    string          `json:"condition,omitempty"`
	Product      *Product        `json:"product,omitempty"`
	Availability *Availability   `json:"availability,omitempty"`
	PackageInfo  json.RawMessage `json:"packageWeightAndSize,omitempty"`
}

// Product describes the item being sold.
type Product struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Brand       string              `json:"brand,omitempty"`
	MPN         string              `json:"mpn,omitempty"`
	ImageURLs   []string            `json:"imageUrls,omitempty"`
	Aspects     map[string][]string `json:"aspects,omitempty"`
}

// Availability holds inventory quantity.
type Availability struct {
	ShipToLocationAvailability struct {
		Quantity int `json:"quantity"`
	} `json:"shipToLocationAvailability"`
}
