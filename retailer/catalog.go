package retailer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type catalogEntry struct {
	name      string
	url       string
	searchURL string
	profile   Profile
}

func prices(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

// ukCatalogue is the top UK grocery retailers in display order.
var ukCatalogue = []catalogEntry{
	{
		name: "Tesco", url: "https://www.tesco.com",
		searchURL: "https://www.tesco.com/groceries/en-GB/search?query=%s",
		profile: Profile{
			Variants: []string{"", "Organic", "Finest", "Value"},
			Prices:   prices("1.50", "2.25", "3.50", "0.99"),
			Count:    3, ImageBackground: "EEE", ImageForeground: "31343C",
		},
	},
	{
		name: "Sainsbury's", url: "https://www.sainsburys.co.uk",
		searchURL: "https://www.sainsburys.co.uk/gol-ui/SearchResults/%s",
		profile: Profile{
			Variants: []string{"", "Taste the Difference", "Basics"},
			Prices:   prices("1.75", "2.50", "1.20"),
			Count:    3, ImageBackground: "FEBD69", ImageForeground: "31343C",
		},
	},
	{
		name: "Asda", url: "https://www.asda.com",
		searchURL: "https://groceries.asda.com/search/%s",
		profile: Profile{
			Variants: []string{"", "Extra Special", "Smart Price"},
			Prices:   prices("1.60", "2.80", "1.10"),
			Count:    3, ImageBackground: "78BE20", ImageForeground: "FFFFFF",
		},
	},
	{
		name: "Morrisons", url: "https://groceries.morrisons.com",
		searchURL: "https://groceries.morrisons.com/search?q=%s",
		profile: Profile{
			Variants: []string{"", "The Best", "Savers"},
			Prices:   prices("1.80", "2.95", "1.25"),
			Count:    3, ImageBackground: "FFBB00", ImageForeground: "000000",
		},
	},
	{
		name: "Aldi", url: "https://www.aldi.co.uk",
		searchURL: "https://www.aldi.co.uk/results?q=%s",
		profile: Profile{
			Variants: []string{"", "Specially Selected"},
			Prices:   prices("1.30", "2.30"),
			Count:    2, ImageBackground: "1D428A", ImageForeground: "FFFFFF",
		},
	},
	{
		name: "Lidl", url: "https://www.lidl.co.uk",
		searchURL: "https://www.lidl.co.uk/q/search?q=%s",
		profile: Profile{
			Variants: []string{"", "Deluxe"},
			Prices:   prices("1.20", "2.20"),
			Count:    2, ImageBackground: "0050AA", ImageForeground: "FFFFFF",
		},
	},
	{
		name: "Waitrose", url: "https://www.waitrose.com",
		searchURL: "https://www.waitrose.com/ecom/shop/search?searchTerm=%s",
		profile: Profile{
			Variants: []string{"", "Duchy Organic", "Essential"},
			Prices:   prices("2.25", "3.50", "1.90"),
			Count:    3, Style: StyleSimple, ImageSlug: "waitrose",
		},
	},
	{
		name: "Co-op", url: "https://www.coop.co.uk",
		searchURL: "https://shop.coop.co.uk/search?term=%s",
		profile: Profile{
			Variants: []string{"", "Irresistible"},
			Prices:   prices("1.85", "2.75"),
			Count:    2, Style: StyleSimple, ImageSlug: "coop",
		},
	},
	{
		name: "M&S", url: "https://www.marksandspencer.com",
		searchURL: "https://www.marksandspencer.com/search?searchTerm=%s",
		profile: Profile{
			Variants: []string{"", "Luxury", "M&S Collection"},
			Prices:   prices("2.50", "3.95", "2.95"),
			Count:    3, Style: StyleSimple, ImageSlug: "marks_spencer",
		},
	},
	{
		name: "Iceland", url: "https://www.iceland.co.uk",
		searchURL: "https://www.iceland.co.uk/search?q=%s",
		profile: Profile{
			Variants: []string{"", "Luxury"},
			Prices:   prices("1.40", "2.40"),
			Count:    2, Style: StyleSimple, ImageSlug: "iceland",
		},
	},
	{
		name: "Amazon", url: "https://www.amazon.co.uk",
		searchURL: "https://www.amazon.co.uk/s?k=%s",
		profile: Profile{
			Variants: []string{"", "Amazon Fresh", "Amazon Basics", "Amazon Choice"},
			Prices:   prices("1.90", "2.95", "1.50", "3.50"),
			Count:    3, ImageBackground: "232F3E", ImageForeground: "FFFFFF",
		},
	},
}

// UKRetailers returns the UK catalogue bound to mock adapters that answer
// after latency.
func UKRetailers(latency time.Duration) []Descriptor {
	out := make([]Descriptor, 0, len(ukCatalogue))
	for _, entry := range ukCatalogue {
		profile := entry.profile
		profile.Store = entry.name
		out = append(out, Descriptor{
			Name:    entry.name,
			URL:     entry.url,
			Adapter: NewMockAdapter(profile, latency),
		})
	}
	return out
}

// UKCrawlerRetailers returns the UK catalogue bound to crawler adapters that
// share base settings from tmpl.
func UKCrawlerRetailers(tmpl CrawlerConfig) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(ukCatalogue))
	for _, entry := range ukCatalogue {
		cfg := tmpl
		cfg.Store = entry.name
		cfg.SearchURL = entry.searchURL
		adapter, err := NewCrawlerAdapter(cfg)
		if err != nil {
			return nil, fmt.Errorf("crawler for %s: %w", entry.name, err)
		}
		out = append(out, Descriptor{
			Name:    entry.name,
			URL:     entry.url,
			Adapter: adapter,
		})
	}
	return out, nil
}
