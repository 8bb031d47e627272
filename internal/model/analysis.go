package model

// Analysis is the research result for a lead's company, used to
// qualify the lead and give the composer drafting context.
type Analysis struct {
	LeadID               string   `json:"lead_id"`
	Website              string   `json:"website,omitempty"`
	WebsiteReachable     bool     `json:"website_reachable"`
	BusinessContext      string   `json:"business_context,omitempty"`
	DetectedTech         []string `json:"detected_tech,omitempty"`
	PositiveObservations []string `json:"positive_observations,omitempty"`
	TechnicalInsights    []string `json:"technical_insights,omitempty"`
	TargetScore          float64  `json:"target_score"`
	Qualified            bool     `json:"qualified"`
	Reasons              []string `json:"reasons,omitempty"`
}
