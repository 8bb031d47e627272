package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

// Criteria describes which leads are worth contacting.
type Criteria struct {
	DecisionMakerTitles []string
	TargetIndustries    []string
	ExcludedIndustries  []string
	MinEmployees        int
	MaxEmployees        int
}

// DefaultCriteria targets technical decision makers at companies likely
// to need and afford custom development work.
func DefaultCriteria() Criteria {
	return Criteria{
		DecisionMakerTitles: []string{
			"ceo", "founder", "co-founder", "cto", "chief technology officer",
			"vp of engineering", "head of product", "technical director",
			"engineering manager", "product manager",
		},
		TargetIndustries: []string{
			"software", "technology", "fintech", "healthtech", "saas",
			"e-commerce", "marketplace", "logistics", "manufacturing",
			"professional services", "consulting", "media", "education technology",
		},
		ExcludedIndustries: []string{
			"government", "non-profit", "religious", "personal", "student",
			"retired", "unemployed", "freelancer", "individual",
		},
		MinEmployees: 10,
		MaxEmployees: 500,
	}
}

// Qualify applies the hard filters. A disqualified lead is never
// scored.
func (c Criteria) Qualify(lead model.Lead) (bool, string) {
	title := strings.ToLower(lead.Title)
	industry := strings.ToLower(lead.Industry)
	company := strings.ToLower(lead.Company)

	if !containsAny(title, c.DecisionMakerTitles) {
		return false, "not a technical decision maker"
	}
	if containsAny(industry, c.ExcludedIndustries) || containsAny(company, c.ExcludedIndustries) {
		return false, "excluded industry"
	}
	if n := lead.Metadata.EmployeeCount; n > 0 && (n < c.MinEmployees || n > c.MaxEmployees) {
		return false, fmt.Sprintf("outside ideal size range (%d employees)", n)
	}
	if !containsAny(industry, c.TargetIndustries) && !containsAny(company, c.TargetIndustries) {
		return false, "industry not in target list"
	}
	return true, ""
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// techSignatures maps substring markers in page HTML to technology
// names, checked in order so the first hit becomes the primary stack.
var techSignatures = []struct {
	marker string
	tech   string
}{
	{"_next/", "React"},
	{"react", "React"},
	{"nuxt", "Vue.js"},
	{"vue", "Vue.js"},
	{"angular", "Angular"},
	{"wp-content", "WordPress"},
	{"wordpress", "WordPress"},
	{"shopify", "Shopify"},
	{"webflow", "Webflow"},
}

// DetectTech scans raw HTML for framework and platform markers.
func DetectTech(html string) []string {
	lower := strings.ToLower(html)
	var found []string
	seen := map[string]bool{}
	for _, sig := range techSignatures {
		if seen[sig.tech] {
			continue
		}
		if strings.Contains(lower, sig.marker) {
			found = append(found, sig.tech)
			seen[sig.tech] = true
		}
	}
	return found
}

// Analyzer runs qualification and website analysis for a lead.
type Analyzer struct {
	scraper  Scraper
	criteria Criteria
	minScore float64
}

// NewAnalyzer builds an analyzer from research configuration.
func NewAnalyzer(scraper Scraper, cfg config.ResearchConfig) *Analyzer {
	criteria := DefaultCriteria()
	if cfg.MinEmployees > 0 {
		criteria.MinEmployees = cfg.MinEmployees
	}
	if cfg.MaxEmployees > 0 {
		criteria.MaxEmployees = cfg.MaxEmployees
	}
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = 5
	}
	return &Analyzer{scraper: scraper, criteria: criteria, minScore: minScore}
}

// Analyze qualifies the lead and scores it 0-10. An unreachable website
// is not a disqualifier; the analysis falls back to company context.
func (a *Analyzer) Analyze(ctx context.Context, lead model.Lead) *model.Analysis {
	analysis := &model.Analysis{
		LeadID:  lead.ID,
		Website: lead.Metadata.Website,
	}

	ok, reason := a.criteria.Qualify(lead)
	if !ok {
		analysis.Reasons = append(analysis.Reasons, reason)
		zap.L().Debug("research: lead disqualified",
			zap.String("lead_id", lead.ID),
			zap.String("reason", reason),
		)
		return analysis
	}

	var page *Page
	if lead.Metadata.Website != "" {
		fetched, err := a.scraper.Fetch(ctx, lead.Metadata.Website)
		if err != nil {
			zap.L().Debug("research: website unreachable, using company context",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			analysis.Reasons = append(analysis.Reasons, "website unreachable")
		} else {
			page = fetched
			analysis.WebsiteReachable = true
		}
	}

	analysis.BusinessContext = businessContext(lead.Industry)
	a.observe(lead, page, analysis)
	analysis.TargetScore = a.score(lead, analysis)
	analysis.Qualified = analysis.TargetScore >= a.minScore

	zap.L().Info("research: lead analyzed",
		zap.String("lead_id", lead.ID),
		zap.String("company", lead.Company),
		zap.Float64("score", analysis.TargetScore),
		zap.Bool("qualified", analysis.Qualified),
	)
	return analysis
}

func businessContext(industry string) string {
	industry = strings.ToLower(industry)
	switch {
	case strings.Contains(industry, "saas"), strings.Contains(industry, "software"):
		return "SaaS/Software Company"
	case strings.Contains(industry, "fintech"), strings.Contains(industry, "financial"):
		return "Financial Technology"
	case strings.Contains(industry, "health"), strings.Contains(industry, "medical"):
		return "Healthcare Technology"
	case strings.Contains(industry, "education"):
		return "Education Technology"
	case strings.Contains(industry, "e-commerce"), strings.Contains(industry, "retail"):
		return "E-commerce/Retail"
	case strings.Contains(industry, "logistics"), strings.Contains(industry, "supply"):
		return "Logistics/Supply Chain"
	case strings.Contains(industry, "media"), strings.Contains(industry, "marketing"):
		return "Media/Marketing Technology"
	default:
		return "Technology Company"
	}
}

// observe fills observations and insights from company context plus
// whatever the website shows.
func (a *Analyzer) observe(lead model.Lead, page *Page, analysis *model.Analysis) {
	title := strings.ToLower(lead.Title)
	employees := lead.Metadata.EmployeeCount

	switch {
	case employees > 50:
		analysis.PositiveObservations = append(analysis.PositiveObservations,
			"established team size and market presence")
	case employees > 10:
		analysis.PositiveObservations = append(analysis.PositiveObservations,
			"growing team and scaling operations")
	}

	switch {
	case strings.Contains(title, "founder"), strings.Contains(title, "ceo"):
		analysis.PositiveObservations = append(analysis.PositiveObservations,
			"strong leadership and vision")
	case strings.Contains(title, "cto"), strings.Contains(title, "technical"):
		analysis.PositiveObservations = append(analysis.PositiveObservations,
			"technical leadership and architecture focus")
	}

	if page != nil {
		analysis.DetectedTech = DetectTech(page.HTML)

		text := strings.ToLower(page.Text)
		if len(page.Text) > 1000 {
			analysis.PositiveObservations = append(analysis.PositiveObservations,
				"substantial, content-rich site")
		}
		if strings.Contains(text, "customer") || strings.Contains(text, "user") {
			analysis.PositiveObservations = append(analysis.PositiveObservations,
				"user-focused content")
		}
		if strings.Contains(text, "growing") || strings.Contains(text, "expanding") {
			analysis.PositiveObservations = append(analysis.PositiveObservations,
				"growth indicators")
		}

		for _, tech := range analysis.DetectedTech {
			analysis.TechnicalInsights = append(analysis.TechnicalInsights,
				tech+" in the stack suggests an established frontend architecture")
		}
		if strings.Contains(text, "api") || strings.Contains(text, "integration") {
			analysis.TechnicalInsights = append(analysis.TechnicalInsights,
				"API and integration mentions suggest technical depth")
		}
	} else {
		industry := strings.ToLower(lead.Industry)
		if strings.Contains(industry, "software") || strings.Contains(industry, "technology") {
			analysis.TechnicalInsights = append(analysis.TechnicalInsights,
				"technology company with sophisticated development needs")
		}
		if employees > 50 {
			analysis.TechnicalInsights = append(analysis.TechnicalInsights,
				"team size indicates mature operations")
		}
	}

	if len(analysis.PositiveObservations) == 0 {
		analysis.PositiveObservations = append(analysis.PositiveObservations,
			"professional online presence")
	}
	if len(analysis.TechnicalInsights) == 0 {
		analysis.TechnicalInsights = append(analysis.TechnicalInsights,
			analysis.BusinessContext+" focus indicates active development needs")
	}
}

// score ports the 0-10 target score: a base for passing the filters,
// capped credit for insights and observations, a point for a reachable
// site, and a seniority bump.
func (a *Analyzer) score(lead model.Lead, analysis *model.Analysis) float64 {
	score := 3.0

	score += min(float64(len(analysis.TechnicalInsights))*1.5, 3)
	score += min(float64(len(analysis.PositiveObservations))*0.5, 2)

	if analysis.WebsiteReachable {
		score++
	}

	title := strings.ToLower(lead.Title)
	switch {
	case strings.Contains(title, "ceo"), strings.Contains(title, "founder"):
		score += 2
	case strings.Contains(title, "cto"), strings.Contains(title, "technical"):
		score += 1.5
	}

	return min(score, 10)
}
