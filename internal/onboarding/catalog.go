package onboarding

import "slices"

// Option is a selectable choice with a display label.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Moods offered on the first step. Ids match the recommendation mood table.
var Moods = []Option{
	{ID: "happy", Label: "Happy & Uplifting"},
	{ID: "cozy", Label: "Cozy & Comforting"},
	{ID: "dark", Label: "Dark & Mysterious"},
	{ID: "intense", Label: "Intense & Thrilling"},
	{ID: "heartwarming", Label: "Heartwarming"},
	{ID: "mind-bending", Label: "Mind-Bending"},
	{ID: "whimsical", Label: "Whimsical & Magical"},
	{ID: "peaceful", Label: "Peaceful & Calm"},
}

// Languages offered on the last step.
var Languages = []string{
	"English", "Spanish", "French", "German", "Italian", "Portuguese",
	"Japanese", "Korean", "Mandarin", "Hindi", "Arabic", "Russian",
}

// Countries offered on the last step.
var Countries = []string{
	"USA", "UK", "France", "Germany", "Spain", "Italy",
	"Japan", "South Korea", "India", "Brazil", "Mexico", "Canada",
}

// ContentFlags are the content restrictions offered on the last step.
var ContentFlags = []Option{
	{ID: "family-friendly", Label: "Family Friendly Only"},
	{ID: "no-violence", Label: "No Violence"},
	{ID: "no-horror", Label: "No Horror"},
	{ID: "no-sexual-content", Label: "No Sexual Content"},
	{ID: "no-slow-movies", Label: "No Slow-Paced Movies"},
}

func hasOption(opts []Option, id string) bool {
	return slices.ContainsFunc(opts, func(o Option) bool { return o.ID == id })
}
