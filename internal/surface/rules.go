package surface

import (
	"regexp"

	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
)

// Rule ids of the two loopback allow rules.
const (
	RuleLocalhost = 1
	RuleLoopback  = 2
)

var ruleResourceTypes = []string{"main_frame", "sub_frame", "xmlhttprequest"}

// RuleAction is what a matching rule does.
type RuleAction struct {
	Type string `json:"type"`
}

// RuleCondition selects the requests a rule applies to.
type RuleCondition struct {
	URLFilter     string   `json:"urlFilter"`
	ResourceTypes []string `json:"resourceTypes"`
}

// Rule is a session-scoped network rule.
type Rule struct {
	ID        int           `json:"id"`
	Priority  int           `json:"priority"`
	Action    RuleAction    `json:"action"`
	Condition RuleCondition `json:"condition"`
}

// RuleUpdate mirrors a session rule update: removals apply before additions.
type RuleUpdate struct {
	RemoveRuleIDs []int  `json:"removeRuleIds"`
	AddRules      []Rule `json:"addRules"`
}

// CNLRules returns the allow rules for the two loopback CNL hosts.
func CNLRules() []Rule {
	return []Rule{
		allowRule(RuleLocalhost, cnl.LoopbackHosts[0]),
		allowRule(RuleLoopback, cnl.LoopbackHosts[1]),
	}
}

func allowRule(id int, host string) Rule {
	return Rule{
		ID:       id,
		Priority: 1,
		Action:   RuleAction{Type: "allow"},
		Condition: RuleCondition{
			URLFilter:     ".*" + regexp.QuoteMeta(host) + ".*",
			ResourceTypes: append([]string{}, ruleResourceTypes...),
		},
	}
}

// Matches reports whether the rule's filter matches rawURL.
func (r Rule) Matches(rawURL string) bool {
	re, err := regexp.Compile(r.Condition.URLFilter)
	if err != nil {
		return false
	}
	return re.MatchString(rawURL)
}

func ruleIDs(rules []Rule) []int {
	ids := make([]int, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
