package voc

// Criterion is one of the ten fixed dimensions quotes are scored against.
type Criterion struct {
	Key         string
	Title       string
	Description string
}

// Criteria is the fixed executive scorecard. Order matters only for prompt
// construction; keys are the contractual identifiers persisted with scores.
var Criteria = []Criterion{
	{
		Key:         "product_capability",
		Title:       "Product Capability",
		Description: "Functionality, features, performance, and core solution fit.",
	},
	{
		Key:         "implementation_onboarding",
		Title:       "Implementation & Onboarding",
		Description: "Deployment ease, time-to-value, setup complexity.",
	},
	{
		Key:         "integration_technical_fit",
		Title:       "Integration & Technical Fit",
		Description: "APIs, data compatibility, technical architecture alignment.",
	},
	{
		Key:         "support_service_quality",
		Title:       "Support & Service Quality",
		Description: "Post-sale support, responsiveness, expertise, SLAs.",
	},
	{
		Key:         "security_compliance",
		Title:       "Security & Compliance",
		Description: "Data protection, certifications, governance, regulatory fit.",
	},
	{
		Key:         "market_position_reputation",
		Title:       "Market Position & Reputation",
		Description: "Brand trust, references, analyst standing, market presence.",
	},
	{
		Key:         "vendor_stability",
		Title:       "Vendor Stability",
		Description: "Financial health, roadmap credibility, long-term viability.",
	},
	{
		Key:         "sales_experience_partnership",
		Title:       "Sales Experience & Partnership",
		Description: "Buying process quality, responsiveness, trust during the deal.",
	},
	{
		Key:         "commercial_terms",
		Title:       "Commercial Terms",
		Description: "Price, contract flexibility, ROI, total cost of ownership.",
	},
	{
		Key:         "speed_responsiveness",
		Title:       "Speed & Responsiveness",
		Description: "Implementation speed, decision velocity, agility.",
	},
}

// CriterionKeys returns the catalog keys in prompt order.
func CriterionKeys() []string {
	keys := make([]string, len(Criteria))
	for i, c := range Criteria {
		keys[i] = c.Key
	}
	return keys
}

// ValidCriterion reports whether key names a catalog criterion.
func ValidCriterion(key string) bool {
	for _, c := range Criteria {
		if c.Key == key {
			return true
		}
	}
	return false
}
