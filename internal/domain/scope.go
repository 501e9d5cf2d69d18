package domain

import "strings"

// NormalizeScopes trims, lowercases and de-duplicates scope names while
// preserving first occurrence order.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		name := strings.ToLower(strings.TrimSpace(s))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ScopesWithin reports whether every requested scope appears in allowed.
func ScopesWithin(requested, allowed []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// SplitScope parses the space-delimited wire form.
func SplitScope(scope string) []string {
	return NormalizeScopes(strings.Fields(scope))
}

// JoinScope renders scopes in the space-delimited wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
