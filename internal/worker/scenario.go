package worker

import "strings"

// Scenario classifies a research focus so that confidence weighting and
// deep-fetch target selection can favor the right kind of source.
type Scenario struct {
	Name string
	// Weight scales rule confidence: well-covered scenarios with strong
	// authority sources score higher than loosely sourced ones.
	Weight float64
	// AuthorityDomains are preferred hosts for deep-content fetches.
	AuthorityDomains []string

	keywords []string
}

var scenarios = []Scenario{
	{
		Name:   "clinical",
		Weight: 0.9,
		AuthorityDomains: []string{
			"clinicaltrials.gov", "pubmed.ncbi.nlm.nih.gov", "pmc.ncbi.nlm.nih.gov",
			"nejm.org", "thelancet.com", "jamanetwork.com",
		},
		keywords: []string{
			"clinical trial", "phase 1", "phase 2", "phase 3", "phase i", "phase ii", "phase iii",
			"efficacy", "safety profile", "adverse event", "patient", "endpoint", "cohort",
		},
	},
	{
		Name:   "regulatory",
		Weight: 0.85,
		AuthorityDomains: []string{
			"fda.gov", "ema.europa.eu", "federalregister.gov", "who.int",
		},
		keywords: []string{
			"fda", "ema", "regulatory", "approval", "compliance", "guidance",
			"label", "submission", "510(k)", "nda", "bla",
		},
	},
	{
		Name:   "technical",
		Weight: 0.8,
		AuthorityDomains: []string{
			"arxiv.org", "nature.com", "sciencedirect.com", "acs.org",
			"ieee.org", "acm.org", "github.com",
		},
		keywords: []string{
			"synthesis", "mechanism", "structure", "algorithm", "implementation",
			"protocol", "architecture", "benchmark", "method",
		},
	},
	{
		Name:   "market",
		Weight: 0.7,
		AuthorityDomains: []string{
			"reuters.com", "bloomberg.com", "statista.com",
			"fiercepharma.com", "fiercebiotech.com",
		},
		keywords: []string{
			"market", "pipeline", "competitor", "revenue", "forecast",
			"launch", "pricing", "market share", "deal",
		},
	},
}

// academicDefault applies when no keyword matches.
var academicDefault = Scenario{
	Name:   "academic",
	Weight: 0.75,
	AuthorityDomains: []string{
		"scholar.google.com", "arxiv.org", "jstor.org",
		"springer.com", "wiley.com", "nature.com",
	},
}

// DetectScenario picks the scenario whose keywords match the text most
// often. Ties go to the earlier (higher-weight) scenario.
func DetectScenario(text string) Scenario {
	lower := strings.ToLower(text)
	best := academicDefault
	bestHits := 0
	for _, sc := range scenarios {
		hits := 0
		for _, kw := range sc.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = sc
			bestHits = hits
		}
	}
	return best
}

// authorityRank orders search hits for deep fetching: authority domains
// first, keeping the backend's relevance order within each band.
func (s Scenario) authorityRank(host string) int {
	host = strings.ToLower(host)
	for _, d := range s.AuthorityDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return 0
		}
	}
	return 1
}
