package progression

import "fmt"

// titleBands maps exclusive upper level bounds to base titles.
var titleBands = []struct {
	below int
	title string
}{
	{5, "Newcomer"},
	{10, "Apprentice"},
	{20, "Journeyman"},
	{30, "Adept"},
	{40, "Expert"},
	{50, "Master"},
}

const topTitle = "Grandmaster"

// DetermineTitle returns the default display title for a level and prestige.
func DetermineTitle(level, prestige int) string {
	prefix := ""
	if prestige > 0 {
		prefix = fmt.Sprintf("[Prestige %d] ", prestige)
	}

	for _, band := range titleBands {
		if level < band.below {
			return prefix + band.title
		}
	}
	return prefix + topTitle
}

// DisplayTitle returns the equipped title, falling back to the cached default.
func (s *Snapshot) DisplayTitle() string {
	if s.EquippedTitle != "" {
		return s.EquippedTitle
	}
	if s.Title != "" {
		return s.Title
	}
	return DetermineTitle(s.Level, s.Prestige)
}
