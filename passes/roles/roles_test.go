package roles

import "testing"

func TestResolvePicksHighestPriority(t *testing.T) {
	resolver := NewResolver(nil)
	cases := []struct {
		name   string
		labels []string
		want   string
	}{
		{name: "og", labels: []string{"OG Gang"}, want: "OG"},
		{name: "treasury beats wl", labels: []string{"Fugz Holder", "Real Fugz"}, want: "Treasury"},
		{name: "og beats wl regardless of order", labels: []string{"FCFS Gang", "Real Fugger"}, want: "OG"},
		{name: "unknown labels", labels: []string{"Booster", "Mod"}, want: DefaultTier},
		{name: "no labels", labels: nil, want: DefaultTier},
		{name: "case sensitive", labels: []string{"og gang"}, want: DefaultTier},
		{name: "whitespace trimmed", labels: []string{" OG Gang "}, want: "OG"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := resolver.Resolve(tc.labels); got != tc.want {
				t.Fatalf("Resolve(%v) = %q, want %q", tc.labels, got, tc.want)
			}
		})
	}
}

func TestResolveIsOrderIndependent(t *testing.T) {
	resolver := NewResolver(nil)
	a := resolver.Resolve([]string{"Fugz Holder", "Legendary Monster", "OG Gang"})
	b := resolver.Resolve([]string{"OG Gang", "Legendary Monster", "Fugz Holder"})
	if a != b || a != "Treasury" {
		t.Fatalf("expected Treasury for both orderings, got %q and %q", a, b)
	}
}

func TestCustomPrioritySkipsBlankRules(t *testing.T) {
	resolver := NewResolver([]Rule{{Label: "", Tier: "Ghost"}, {Label: "Helper", Tier: ""}, {Label: "Artist", Tier: "Creator"}})
	if got := resolver.Resolve([]string{"Helper", "Artist"}); got != "Creator" {
		t.Fatalf("expected Creator, got %q", got)
	}
}
