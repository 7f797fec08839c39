// Package recommend turns user preferences into metadata-provider queries.
//
// There is no learned model: mood tags map to fixed TMDB genre ids, and each
// query degrades to a weaker, unpersonalized tier when the stronger one cannot
// be answered.
package recommend

import "slices"

// TMDB genre ids.
const (
	GenreAction      = 28
	GenreAnimation   = 16
	GenreComedy      = 35
	GenreCrime       = 80
	GenreDocumentary = 99
	GenreDrama       = 18
	GenreFamily      = 10751
	GenreFantasy     = 14
	GenreHistory     = 36
	GenreHorror      = 27
	GenreMystery     = 9648
	GenreRomance     = 10749
	GenreSciFi       = 878
	GenreThriller    = 53
	GenreWar         = 10752
)

// moodGenres maps each mood tag to the genres it selects.
var moodGenres = map[string][]int{
	"happy":        {GenreComedy, GenreFamily, GenreAnimation},
	"cozy":         {GenreFamily, GenreRomance},
	"dark":         {GenreHorror, GenreThriller, GenreCrime},
	"intense":      {GenreAction, GenreThriller, GenreWar},
	"heartwarming": {GenreDrama, GenreRomance},
	"mind-bending": {GenreSciFi, GenreMystery},
	"whimsical":    {GenreFantasy, GenreAnimation},
	"peaceful":     {GenreDocumentary, GenreHistory},
}

// GenresForMood returns the genre ids for a mood tag, or nil for unknown tags.
func GenresForMood(mood string) []int {
	return slices.Clone(moodGenres[mood])
}

// KnownMood reports whether mood has a genre mapping.
func KnownMood(mood string) bool {
	_, ok := moodGenres[mood]
	return ok
}

// MoodGenres returns the union of genre ids for moods, in first-seen order.
// Unknown moods contribute nothing.
func MoodGenres(moods []string) []int {
	var ids []int
	seen := make(map[int]struct{})
	for _, mood := range moods {
		for _, id := range moodGenres[mood] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func genreSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
