package roles

import "strings"

// DefaultTier is returned when none of a member's labels appear in the priority list.
const DefaultTier = "Member"

// Rule maps a platform membership label onto the tier printed on the pass.
type Rule struct {
	Label string `yaml:"label" toml:"label"`
	Tier  string `yaml:"tier" toml:"tier"`
}

// DefaultPriority returns the deployed label priority, highest first.
func DefaultPriority() []Rule {
	return []Rule{
		{Label: "Legendary Monster", Tier: "Treasury"},
		{Label: "Real Fugz", Tier: "Treasury"},
		{Label: "OG Gang", Tier: "OG"},
		{Label: "Real Fugger", Tier: "OG"},
		{Label: "FCFS Gang", Tier: "WL"},
		{Label: "Fugz Holder", Tier: "WL"},
	}
}

// Resolver picks a display tier from a member's labels.
type Resolver struct {
	priority    []Rule
	defaultTier string
}

// NewResolver copies the supplied priority list. An empty list falls back to
// DefaultPriority.
func NewResolver(priority []Rule) *Resolver {
	if len(priority) == 0 {
		priority = DefaultPriority()
	}
	rules := make([]Rule, 0, len(priority))
	for _, rule := range priority {
		label := strings.TrimSpace(rule.Label)
		tier := strings.TrimSpace(rule.Tier)
		if label == "" || tier == "" {
			continue
		}
		rules = append(rules, Rule{Label: label, Tier: tier})
	}
	return &Resolver{priority: rules, defaultTier: DefaultTier}
}

// Resolve returns the tier of the highest priority rule whose label the member
// holds. The priority list drives the walk so the platform's label ordering has
// no effect on the outcome.
func (r *Resolver) Resolve(labels []string) string {
	if r == nil {
		return DefaultTier
	}
	held := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		held[strings.TrimSpace(label)] = struct{}{}
	}
	for _, rule := range r.priority {
		if _, ok := held[rule.Label]; ok {
			return rule.Tier
		}
	}
	return r.defaultTier
}
