package synthesis

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// unknownTier ranks sources from domains no rule covers.
const unknownTier = 4

// AuthorityRules ranks source domains into tiers; a lower tier wins
// conflicts. Rules load from YAML so deployments can encode their own
// notion of authority without a rebuild.
type AuthorityRules struct {
	Tiers []AuthorityTier `yaml:"tiers"`
}

// AuthorityTier lists the domains of one rank.
type AuthorityTier struct {
	Tier    int      `yaml:"tier"`
	Domains []string `yaml:"domains"`
}

// DefaultAuthorityRules covers the common research source landscape:
// primary regulatory and peer-reviewed sources first, reputable press and
// preprints second, general reference last.
func DefaultAuthorityRules() *AuthorityRules {
	return &AuthorityRules{Tiers: []AuthorityTier{
		{Tier: 1, Domains: []string{
			"fda.gov", "ema.europa.eu", "who.int", "clinicaltrials.gov",
			"pubmed.ncbi.nlm.nih.gov", "pmc.ncbi.nlm.nih.gov",
			"nature.com", "science.org", "nejm.org", "thelancet.com",
		}},
		{Tier: 2, Domains: []string{
			"arxiv.org", "sciencedirect.com", "springer.com", "wiley.com",
			"ieee.org", "acm.org", "reuters.com", "bloomberg.com",
		}},
		{Tier: 3, Domains: []string{
			"wikipedia.org", "medium.com", "substack.com",
		}},
	}}
}

// LoadAuthorityRules reads rules from a YAML file. An empty path returns
// the defaults.
func LoadAuthorityRules(path string) (*AuthorityRules, error) {
	if path == "" {
		return DefaultAuthorityRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authority rules %s: %w", path, err)
	}
	var rules AuthorityRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse authority rules %s: %w", path, err)
	}
	if len(rules.Tiers) == 0 {
		return nil, fmt.Errorf("authority rules %s define no tiers", path)
	}
	return &rules, nil
}

// TierFor ranks a source URL. Unknown domains get unknownTier.
func (r *AuthorityRules) TierFor(raw string) int {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return unknownTier
	}
	host := strings.ToLower(u.Host)
	for _, t := range r.Tiers {
		for _, d := range t.Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return t.Tier
			}
		}
	}
	return unknownTier
}
