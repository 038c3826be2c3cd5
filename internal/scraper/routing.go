package scraper

import (
	"strings"
)

// providerAliases maps user-supplied spellings to canonical provider
// names. Lookup happens after lowercasing and stripping separators.
var providerAliases = map[string]string{
	"firecrawl":  ProviderFirecrawl,
	"fc":         ProviderFirecrawl,
	"brightdata": ProviderUnlocker,
	"bd":         ProviderUnlocker,
	"unlocker":   ProviderUnlocker,
	"playwright": ProviderHeadless,
	"playwrite":  ProviderHeadless,
	"pw":         ProviderHeadless,
	"headless":   ProviderHeadless,
	"browser":    ProviderHeadless,
	"chromedp":   ProviderHeadless,
}

// NormalizeProvider resolves a preferred-provider string to a canonical
// name, or "" when the value is empty or unrecognized.
func NormalizeProvider(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	return providerAliases[s]
}

// Router resolves the ordered provider list for a task. Precedence:
// explicit task preference, then the domain policy table, then the
// primary-first default order.
type Router struct {
	// Primary selects the default order: the primary provider first,
	// then the remaining providers with headless always last.
	Primary string
	// DomainPolicy forces a first provider for URLs whose host contains
	// the key as a substring.
	DomainPolicy map[string]string
}

// Order returns the attempt order for a task before budget filtering.
func (r Router) Order(task Task) []string {
	if preferred := NormalizeProvider(task.PreferredProvider); preferred != "" {
		return prepend(preferred, r.defaultOrder())
	}
	if forced := r.forcedProvider(task.URL); forced != "" {
		return prepend(forced, r.defaultOrder())
	}
	return r.defaultOrder()
}

func (r Router) defaultOrder() []string {
	if NormalizeProvider(r.Primary) == ProviderUnlocker {
		return []string{ProviderUnlocker, ProviderFirecrawl, ProviderHeadless}
	}
	return []string{ProviderFirecrawl, ProviderUnlocker, ProviderHeadless}
}

func (r Router) forcedProvider(url string) string {
	lower := strings.ToLower(url)
	for pattern, name := range r.DomainPolicy {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			if canonical := NormalizeProvider(name); canonical != "" {
				return canonical
			}
		}
	}
	return ""
}

// prepend moves name to the front of order, removing duplicates.
func prepend(name string, order []string) []string {
	out := []string{name}
	for _, p := range order {
		if p != name {
			out = append(out, p)
		}
	}
	return out
}

// FilterBudgets drops providers with a zero retry budget and providers
// without a registered profile from the resolved order.
func FilterBudgets(order []string, profiles map[string]Profile) []string {
	out := make([]string, 0, len(order))
	for _, name := range order {
		profile, ok := profiles[name]
		if !ok || profile.RetryBudget <= 0 || profile.Provider == nil {
			continue
		}
		out = append(out, name)
	}
	return out
}
