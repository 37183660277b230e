package surface

const (
	BadgeColor = "#f3d435"
	AlertGlyph = "!"
)

// Badge is the toolbar badge.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// BadgeFor renders the badge for a connection flag.
func BadgeFor(connected bool) Badge {
	if connected {
		return Badge{Text: "", Color: BadgeColor}
	}
	return Badge{Text: AlertGlyph, Color: BadgeColor}
}
