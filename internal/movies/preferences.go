package movies

import "time"

// PreferencesSchemaVersion is the current UserPreferences schema.
// Version 0 is the unversioned shape written by older clients.
const PreferencesSchemaVersion = 1

// DefaultFamiliarity is the familiarity level assigned by onboarding.
const DefaultFamiliarity = 50

// UserPreferences holds the taste profile collected by onboarding.
// It is always replaced wholesale; there is no partial update.
type UserPreferences struct {
	SchemaVersion       int      `json:"schemaVersion"`
	Moods               []string `json:"moods"`
	LikedMovies         []string `json:"likedMovies"`
	DislikedMovies      []string `json:"dislikedMovies"`
	Languages           []string `json:"languages"`
	Countries           []string `json:"countries"`
	ContentRestrictions []string `json:"contentRestrictions"`
	FamiliarityLevel    int      `json:"familiarityLevel"`
	ExcludeFilters      []string `json:"excludeFilters"`
}

// Normalize migrates older schema versions to the current one and replaces nil
// slices with empty ones so the value serializes identically everywhere.
func (p UserPreferences) Normalize() UserPreferences {
	if p.SchemaVersion < 1 {
		// v0 documents had no familiarity field; zero meant "unset".
		if p.FamiliarityLevel == 0 {
			p.FamiliarityLevel = DefaultFamiliarity
		}
		p.SchemaVersion = 1
	}
	p.FamiliarityLevel = min(max(p.FamiliarityLevel, 0), 100)

	p.Moods = nonNil(p.Moods)
	p.LikedMovies = nonNil(p.LikedMovies)
	p.DislikedMovies = nonNil(p.DislikedMovies)
	p.Languages = nonNil(p.Languages)
	p.Countries = nonNil(p.Countries)
	p.ContentRestrictions = nonNil(p.ContentRestrictions)
	p.ExcludeFilters = nonNil(p.ExcludeFilters)
	return p
}

// LastLiked returns the most recently liked movie reference.
func (p UserPreferences) LastLiked() (string, bool) {
	if len(p.LikedMovies) == 0 {
		return "", false
	}
	return p.LikedMovies[len(p.LikedMovies)-1], true
}

// Profile is the remote profile document: preferences, favorites and the
// account details stored alongside them.
type Profile struct {
	UserPreferences
	Favorites   []Movie   `json:"favorites,omitempty"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
