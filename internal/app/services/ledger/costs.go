package ledger

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCost is charged for any action no pricing rule matches.
const DefaultCost int64 = 1

// CostRule prices one action family. Rules are evaluated in declaration
// order and the first match wins, so broad keyword rules must come after
// the narrow ones they overlap with.
type CostRule struct {
	Name  string
	Match func(action string) bool
	Price func(action string) int64
}

// CostPolicy is an ordered rule table with a default for unmatched actions.
type CostPolicy struct {
	rules       []CostRule
	defaultCost int64
}

// Action names arrive with mixed separators depending on the client
// generation ("workflow-stage-2", "workflow:stage2", "workflow_stage_2").
var stagePattern = regexp.MustCompile(`stage[-_:]?([1-5])\b`)

func contains(substr string) func(string) bool {
	return func(action string) bool { return strings.Contains(action, substr) }
}

func fixed(cost int64) func(string) int64 {
	return func(string) int64 { return cost }
}

// DefaultCostPolicy returns the shipped pricing table. Order is a contract:
// the free project family is checked before every paid rule, and narrow
// families before broad keyword matches.
func DefaultCostPolicy() *CostPolicy {
	return &CostPolicy{
		defaultCost: DefaultCost,
		rules: []CostRule{
			{
				Name:  "project-management",
				Match: contains("project"),
				Price: fixed(0),
			},
			{
				Name:  "account-management",
				Match: func(action string) bool { return strings.HasPrefix(action, "user-") },
				Price: fixed(0),
			},
			{
				Name:  "workflow-stage",
				Match: stagePattern.MatchString,
				Price: func(action string) int64 {
					m := stagePattern.FindStringSubmatch(action)
					n, _ := strconv.ParseInt(m[1], 10, 64)
					return n * 5
				},
			},
			{
				Name: "competitor-analysis",
				// The family answers to several client spellings: comp_*,
				// competitor-*, and the elite_* report bundle.
				Match: func(action string) bool {
					return strings.Contains(action, "comp") || strings.HasPrefix(action, "elite_") || strings.HasPrefix(action, "elite-")
				},
				Price: fixed(30),
			},
			{
				Name:  "fetch-multi",
				Match: func(action string) bool {
					return strings.Contains(action, "fetch") && strings.Contains(action, "multi")
				},
				Price: fixed(2),
			},
			{
				Name:  "fetch-single",
				Match: contains("fetch"),
				Price: fixed(1),
			},
			{
				Name: "content-generation",
				Match: func(action string) bool {
					return strings.Contains(action, "content") || strings.Contains(action, "generate")
				},
				Price: fixed(15),
			},
		},
	}
}

// ResolveCost prices an action. The payload is accepted for signature parity
// with handlers but pricing is keyed on the action name alone, so identical
// inputs always price identically.
func (p *CostPolicy) ResolveCost(action string, _ json.RawMessage) int64 {
	name := strings.ToLower(strings.TrimSpace(action))
	for _, rule := range p.rules {
		if rule.Match(name) {
			return rule.Price(name)
		}
	}
	return p.defaultCost
}
