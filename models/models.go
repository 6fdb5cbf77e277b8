package models

import "time"

// Requirements is the validated housing criteria produced by the scoping
// dialog. Pointer fields distinguish "not provided yet" from zero values.
type Requirements struct {
	Location       string   `json:"location"`
	Bedrooms       *int     `json:"bedrooms,omitempty"`
	Bathrooms      *float64 `json:"bathrooms,omitempty"`
	BudgetMin      *float64 `json:"budget_min,omitempty"`
	BudgetMax      *float64 `json:"budget_max,omitempty"`
	IsRent         bool     `json:"is_rent"`
	AdditionalInfo string   `json:"additional_info,omitempty"`
}

// Validate checks cross-field invariants.
func (r Requirements) Validate() error {
	if r.Bedrooms != nil && *r.Bedrooms < 0 {
		return &Error{Kind: KindLogic, Op: "requirements", Message: "bedrooms must be zero or positive"}
	}
	if r.Bathrooms != nil && *r.Bathrooms < 0 {
		return &Error{Kind: KindLogic, Op: "requirements", Message: "bathrooms must be zero or positive"}
	}
	if r.BudgetMin != nil && r.BudgetMax != nil && *r.BudgetMin > *r.BudgetMax {
		return &Error{Kind: KindLogic, Op: "requirements", Message: "budget_min cannot exceed budget_max"}
	}
	return nil
}

// Complete reports whether the record carries enough detail to search on:
// a location plus at least one of bedrooms or a budget ceiling.
func (r Requirements) Complete() bool {
	return r.Location != "" && (r.Bedrooms != nil || r.BudgetMax != nil)
}

// Price is a listing price with its currency and rent/buy intent.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	IsRent   bool    `json:"is_rent"`
}

// Candidate is a scraped property listing before geocoding. URL is unique
// within a result set and ordering is the ranking, preserved end-to-end.
type Candidate struct {
	Title         string   `json:"title"`
	Address       string   `json:"address"`
	City          string   `json:"city,omitempty"`
	Description   string   `json:"description,omitempty"`
	URL           string   `json:"url"`
	ImageURL      string   `json:"image_url,omitempty"`
	Price         Price    `json:"price"`
	OriginalPrice float64  `json:"original_price,omitempty"`
	Bedrooms      *int     `json:"bedrooms,omitempty"`
	Bathrooms     *float64 `json:"bathrooms,omitempty"`
	AreaM2        float64  `json:"area_m2,omitempty"`
	PropertyType  string   `json:"property_type,omitempty"`
	Source        string   `json:"source,omitempty"`
	Snippet       string   `json:"-"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

// GeoCandidate is a Candidate with a resolved coordinate.
type GeoCandidate struct {
	Candidate
	Lat               float64 `json:"latitude"`
	Lon               float64 `json:"longitude"`
	Confidence        float64 `json:"geocode_confidence"`
	NormalizedAddress string  `json:"normalized_address,omitempty"`
}

// POICategory is the closed set of point-of-interest categories.
type POICategory string

const (
	POISchool         POICategory = "school"
	POIHospital       POICategory = "hospital"
	POIGrocery        POICategory = "grocery"
	POIRestaurant     POICategory = "restaurant"
	POIPark           POICategory = "park"
	POITransitStation POICategory = "transit_station"
	POICafe           POICategory = "cafe"
	POIGym            POICategory = "gym"
	POIOther          POICategory = "other"
)

// DefaultPOICategories is the lookup set used when a caller does not narrow
// the categories.
var DefaultPOICategories = []POICategory{
	POISchool, POIHospital, POIGrocery, POIRestaurant,
	POIPark, POITransitStation, POICafe, POIGym,
}

// POI is a point of interest near a property.
type POI struct {
	Name           string      `json:"name"`
	Category       POICategory `json:"category"`
	Lat            float64     `json:"latitude"`
	Lon            float64     `json:"longitude"`
	DistanceMeters float64     `json:"distance_meters"`
}

// EnrichedCandidate is a GeoCandidate plus nearby POIs ordered by distance.
type EnrichedCandidate struct {
	GeoCandidate
	POIs []POI `json:"pois"`
}

// Story is one community anecdote surfaced by the community agent.
type Story struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// CommunityReport scores the neighborhood of the top-ranked candidate.
// Scores are clamped to [0,10]. Housing averages are 0 when unknown.
type CommunityReport struct {
	Location           string  `json:"location"`
	OverallScore       float64 `json:"overall_score"`
	OverallExplanation string  `json:"overall_explanation"`
	SafetyScore        float64 `json:"safety_score"`
	SafetyExplanation  string  `json:"safety_explanation,omitempty"`
	SchoolRating       float64 `json:"school_rating"`
	SchoolExplanation  string  `json:"school_explanation,omitempty"`
	PositiveStories    []Story `json:"positive_stories"`
	NegativeStories    []Story `json:"negative_stories"`
	PricePerM2         float64 `json:"price_per_m2,omitempty"`
	AverageSizeM2      float64 `json:"average_size_m2,omitempty"`
}

// SearchResult is the assembled output of one completed chat search.
type SearchResult struct {
	Requirements         Requirements        `json:"requirements"`
	Properties           []EnrichedCandidate `json:"properties"`
	Summary              string              `json:"search_summary"`
	TotalFound           int                 `json:"total_found"`
	TopResultCoordinates *TopCoordinates     `json:"top_result_coordinates,omitempty"`
	Community            *CommunityReport    `json:"community_analysis,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}

// TopCoordinates points the map at the best match.
type TopCoordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// NegotiationRecord is the synchronous outcome of one negotiation call.
// It is returned to the HTTP caller and never persisted.
type NegotiationRecord struct {
	Address       string   `json:"address"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Brief         string   `json:"-"`
	Findings      []string `json:"findings"`
	LeverageScore float64  `json:"leverage_score"`
	CallSummary   string   `json:"call_summary"`
	Success       bool     `json:"success"`
}

// SearchHit is one raw web-search result from the search provider.
type SearchHit struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet"`
	DisplayURL string `json:"display_url,omitempty"`
}

// GeocodeResult is a forward-geocoding match. Confidence below the caller's
// threshold (0.3 by convention) is treated as a miss.
type GeocodeResult struct {
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	Confidence        float64 `json:"confidence"`
	NormalizedAddress string  `json:"normalized_address"`
}
