package routing

import (
	"fmt"
	"sort"
	"strings"
)

const apiPrefix = "/api/"

// Rule maps one gateway prefix onto a backend service.
type Rule struct {
	Prefix        string `json:"prefix"`
	Service       string `json:"service"`
	BackendPrefix string `json:"backendPrefix"`
	DefaultPath   string `json:"defaultPath"`
}

// Rewrite turns the path remainder after the gateway prefix into the backend
// path. An empty remainder (or a bare "/") maps to DefaultPath.
func (r Rule) Rewrite(remainder string) string {
	if remainder == "" || remainder == "/" {
		if r.DefaultPath == "" {
			return "/"
		}
		return r.DefaultPath
	}
	if !strings.HasPrefix(remainder, "/") {
		remainder = "/" + remainder
	}
	return r.BackendPrefix + remainder
}

func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "users", Service: "user-service", BackendPrefix: "/users", DefaultPath: "/users"},
		{Prefix: "auth", Service: "user-service", BackendPrefix: "", DefaultPath: "/"},
		{Prefix: "item", Service: "product-service", BackendPrefix: "/products", DefaultPath: "/products"},
		{Prefix: "lists", Service: "category-service", BackendPrefix: "/categories", DefaultPath: "/categories"},
	}
}

// Table is an immutable prefix lookup.
type Table struct {
	rules map[string]Rule
}

func NewTable(rules []Rule) (*Table, error) {
	t := &Table{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if rule.Prefix == "" || rule.Service == "" {
			return nil, fmt.Errorf("route rule needs a prefix and a service: %+v", rule)
		}
		if strings.Contains(rule.Prefix, "/") {
			return nil, fmt.Errorf("route prefix %q must be a single path segment", rule.Prefix)
		}
		if _, dup := t.rules[rule.Prefix]; dup {
			return nil, fmt.Errorf("duplicate route prefix %q", rule.Prefix)
		}
		t.rules[rule.Prefix] = rule
	}
	return t, nil
}

// Resolve splits an inbound path into its rule and rewritten backend path.
// The returned segment is the first path segment after /api/, set even when
// no rule matches.
func (t *Table) Resolve(path string) (rule Rule, rewritten, segment string, ok bool) {
	if !strings.HasPrefix(path, apiPrefix) {
		return Rule{}, "", "", false
	}

	rest := strings.TrimPrefix(path, apiPrefix)
	segment, remainder, _ := strings.Cut(rest, "/")
	if remainder != "" || strings.HasSuffix(rest, "/") {
		remainder = "/" + remainder
	}

	rule, ok = t.rules[segment]
	if !ok {
		return Rule{}, "", segment, false
	}
	return rule, rule.Rewrite(remainder), segment, true
}

// Prefixes returns the configured prefixes in sorted order.
func (t *Table) Prefixes() []string {
	prefixes := make([]string, 0, len(t.rules))
	for prefix := range t.rules {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}

// Rules returns the rules sorted by prefix.
func (t *Table) Rules() []Rule {
	rules := make([]Rule, 0, len(t.rules))
	for _, prefix := range t.Prefixes() {
		rules = append(rules, t.rules[prefix])
	}
	return rules
}
