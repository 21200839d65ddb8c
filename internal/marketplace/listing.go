package marketplace

import (
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/projects"
)

// Listing is a purchasable project decorated with its seller.
type Listing struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"projectId"`
	Slug             string   `json:"slug"`
	ProjectName      string   `json:"projectName"`
	ProjectType      string   `json:"projectType"`
	Country          string   `json:"country,omitempty"`
	Region           string   `json:"region,omitempty"`
	Location         string   `json:"location,omitempty"`
	TonsAvailable    float64  `json:"tonsAvailable"`
	PricePerTonUsd   float64  `json:"pricePerTonUsd"`
	VerifierRegistry string   `json:"verifierRegistry,omitempty"`
	Vintage          string   `json:"vintage,omitempty"`
	Description      string   `json:"description,omitempty"`
	ImageURL         string   `json:"imageUrl,omitempty"`
	CompanyID        string   `json:"companyId"`
	CompanyName      string   `json:"companyName,omitempty"`
	CompanySlug      string   `json:"companySlug,omitempty"`
	CompanyPicture   string   `json:"companyPicture,omitempty"`
	Badges           []string `json:"badges"`
}

// Listings is the marketplace response body.
type Listings struct {
	Listings []Listing       `json:"listings"`
	Filters  projects.Facets `json:"filters"`
}

// BuildListings decorates projects with their sellers. Projects whose
// seller no longer exists are still listed without seller details.
func BuildListings(items []projects.Project, sellers []companies.Company) []Listing {
	byID := make(map[string]*companies.Company, len(sellers))
	for i := range sellers {
		byID[sellers[i].CompanyID] = &sellers[i]
	}

	listings := make([]Listing, 0, len(items))
	for _, p := range items {
		listing := Listing{
			ID:               p.ProjectID,
			ProjectID:        p.ProjectID,
			Slug:             p.Slug,
			ProjectName:      p.Name,
			ProjectType:      string(p.ProjectType),
			Country:          p.Country,
			Region:           p.Region,
			Location:         p.Location,
			TonsAvailable:    p.TonsAvailable,
			PricePerTonUsd:   p.PricePerTonUsd,
			VerifierRegistry: p.VerifierRegistry,
			Vintage:          p.Vintage,
			Description:      p.Description,
			ImageURL:         p.ListingImageURL,
			CompanyID:        p.SellerCompanyID,
			Badges:           []string{},
		}
		if seller, ok := byID[p.SellerCompanyID]; ok {
			listing.CompanyName = seller.Name
			listing.CompanySlug = seller.Slug
			listing.CompanyPicture = seller.GooglePicture
			if seller.Badges != nil {
				listing.Badges = seller.Badges
			}
		}
		listings = append(listings, listing)
	}
	return listings
}

func sellerIDs(items []projects.Project) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, p := range items {
		if p.SellerCompanyID != "" && !seen[p.SellerCompanyID] {
			seen[p.SellerCompanyID] = true
			ids = append(ids, p.SellerCompanyID)
		}
	}
	return ids
}
