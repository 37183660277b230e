// Package surface holds the extension's visible state: toolbar badge,
// context menu entries and the session network rules that admit CNL
// traffic. Every change is published for the extension shim to apply.
package surface

import (
	"log/slog"
	"sync"

	"github.com/dgnsrekt/myjd_bridge/internal/relay"
)

// Publisher receives state changes.
type Publisher interface {
	PublishJSON(feed string, v any)
}

// Snapshot is the full visible state.
type Snapshot struct {
	Badge       Badge      `json:"badge"`
	Menus       []MenuItem `json:"menus"`
	Rules       []Rule     `json:"rules"`
	RulesActive bool       `json:"rulesActive"`
}

// Surface owns the visible state.
type Surface struct {
	pub Publisher

	mu    sync.Mutex
	badge Badge
	menus []MenuItem
	rules []Rule
}

// New returns a surface with a disconnected badge and no menus or rules.
func New(pub Publisher) *Surface {
	return &Surface{pub: pub, badge: BadgeFor(false), menus: []MenuItem{}, rules: []Rule{}}
}

func (s *Surface) publish(feed string, v any) {
	if s.pub != nil {
		s.pub.PublishJSON(feed, v)
	}
}

// SetConnected recomputes the badge from the connection flag.
func (s *Surface) SetConnected(connected bool) Badge {
	b := BadgeFor(connected)
	s.mu.Lock()
	s.badge = b
	s.mu.Unlock()
	s.publish(relay.FeedBadge, b)
	return b
}

// OverrideBadge applies explicit badge text or color. Nil leaves a field as is.
func (s *Surface) OverrideBadge(text, color *string) Badge {
	s.mu.Lock()
	if text != nil {
		s.badge.Text = *text
	}
	if color != nil {
		s.badge.Color = *color
	}
	b := s.badge
	s.mu.Unlock()
	s.publish(relay.FeedBadge, b)
	return b
}

// SetMenus rebuilds the context menu entries for the display mode.
func (s *Surface) SetMenus(simple bool) []MenuItem {
	menus := BuildMenus(simple)
	s.mu.Lock()
	s.menus = menus
	s.mu.Unlock()
	s.publish(relay.FeedMenus, MenuUpdate{RemoveAll: true, Create: menus})
	return menus
}

// InstallRules installs the CNL allow rules and returns their ids.
func (s *Surface) InstallRules() []int {
	rules := CNLRules()
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()

	ids := ruleIDs(rules)
	slog.Info("cnl session rules installed", "rule_ids", ids)
	s.publish(relay.FeedRules, RuleUpdate{RemoveRuleIDs: ids, AddRules: rules})
	return ids
}

// RemoveRules removes the CNL allow rules and returns the removed ids.
func (s *Surface) RemoveRules() []int {
	s.mu.Lock()
	s.rules = []Rule{}
	s.mu.Unlock()

	ids := ruleIDs(CNLRules())
	slog.Info("cnl session rules removed", "rule_ids", ids)
	s.publish(relay.FeedRules, RuleUpdate{RemoveRuleIDs: ids, AddRules: []Rule{}})
	return ids
}

// RulesActive reports whether the allow rules are installed.
func (s *Surface) RulesActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules) > 0
}

// Allows reports whether an installed rule admits rawURL.
func (s *Surface) Allows(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.Matches(rawURL) {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the visible state.
func (s *Surface) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Badge:       s.badge,
		Menus:       append([]MenuItem{}, s.menus...),
		Rules:       append([]Rule{}, s.rules...),
		RulesActive: len(s.rules) > 0,
	}
}
