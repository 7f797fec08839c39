package movies

import (
	"slices"
	"testing"
	"time"
)

func TestMovieKey(t *testing.T) {
	tests := []struct {
		name  string
		movie Movie
		want  string
	}{
		{"tmdb id wins", Movie{IMDbID: "tt1375666", TMDBID: 27205}, "27205"},
		{"imdb only", Movie{IMDbID: "tt0468569"}, "tt0468569"},
		{"neither", Movie{Title: "Untitled"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.movie.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTMDBID(t *testing.T) {
	tests := []struct {
		ref    string
		want   int
		wantOK bool
	}{
		{"27205", 27205, true},
		{"tt1375666", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := ParseTMDBID(tt.ref)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseTMDBID(%q) = (%d, %v), want (%d, %v)", tt.ref, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestToggleFavorite(t *testing.T) {
	inception := Movie{TMDBID: 27205, Title: "Inception"}
	darkKnight := Movie{TMDBID: 155, Title: "The Dark Knight"}

	favs := ToggleFavorite(nil, inception)
	if len(favs) != 1 || !IsFavorite(favs, "27205") {
		t.Fatalf("first toggle: got %v, want [Inception]", favs)
	}

	favs = ToggleFavorite(favs, darkKnight)
	if len(favs) != 2 {
		t.Fatalf("second movie: got %d favorites, want 2", len(favs))
	}

	before := slices.Clone(favs)
	favs = ToggleFavorite(favs, inception)
	if IsFavorite(favs, "27205") {
		t.Error("toggle of existing favorite did not remove it")
	}
	if len(before) != 2 {
		t.Error("ToggleFavorite mutated its input")
	}

	// Two toggles of the same movie are the identity.
	again := ToggleFavorite(ToggleFavorite(favs, inception), inception)
	if len(again) != len(favs) || again[0].Key() != favs[0].Key() {
		t.Errorf("double toggle = %v, want %v", again, favs)
	}
}

func TestMovieListAddRemove(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := created.Add(time.Hour)

	list := NewList("Weekend", "", false, []string{"27205"}, created)
	if list.Collaborators != 1 {
		t.Errorf("Collaborators = %d, want 1", list.Collaborators)
	}

	if list.AddMovie("27205", later) {
		t.Error("AddMovie of existing id reported a change")
	}
	if len(list.MovieIDs) != 1 || !list.UpdatedAt.Equal(created) {
		t.Errorf("AddMovie of existing id mutated list: %+v", list)
	}

	if !list.AddMovie("155", later) {
		t.Error("AddMovie of new id reported no change")
	}
	if !list.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", list.UpdatedAt, later)
	}

	if list.RemoveMovie("999", later.Add(time.Hour)) {
		t.Error("RemoveMovie of absent id reported a change")
	}
	if !list.UpdatedAt.Equal(later) {
		t.Error("RemoveMovie of absent id refreshed UpdatedAt")
	}

	if !list.RemoveMovie("27205", later) {
		t.Error("RemoveMovie of present id reported no change")
	}
	if !slices.Equal(list.MovieIDs, []string{"155"}) {
		t.Errorf("MovieIDs = %v, want [155]", list.MovieIDs)
	}
}

func TestListUpdateApply(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	list := NewList("Old", "desc", false, nil, now.Add(-time.Hour))

	name := "New"
	public := true
	ListUpdate{Name: &name, IsPublic: &public}.Apply(&list, now)

	if list.Name != "New" || !list.IsPublic || list.Description != "desc" {
		t.Errorf("Apply() = %+v", list)
	}
	if !list.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", list.UpdatedAt, now)
	}
}

func TestPreferencesNormalize(t *testing.T) {
	tests := []struct {
		name            string
		in              UserPreferences
		wantFamiliarity int
	}{
		{"legacy unversioned gets default familiarity", UserPreferences{Moods: []string{"dark"}}, DefaultFamiliarity},
		{"current version keeps zero", UserPreferences{SchemaVersion: 1}, 0},
		{"clamps high", UserPreferences{SchemaVersion: 1, FamiliarityLevel: 140}, 100},
		{"clamps low", UserPreferences{SchemaVersion: 1, FamiliarityLevel: -5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.SchemaVersion != PreferencesSchemaVersion {
				t.Errorf("SchemaVersion = %d, want %d", got.SchemaVersion, PreferencesSchemaVersion)
			}
			if got.FamiliarityLevel != tt.wantFamiliarity {
				t.Errorf("FamiliarityLevel = %d, want %d", got.FamiliarityLevel, tt.wantFamiliarity)
			}
			if got.LikedMovies == nil || got.ExcludeFilters == nil {
				t.Error("Normalize() left nil slices")
			}
		})
	}
}

func TestPreferencesLastLiked(t *testing.T) {
	p := UserPreferences{LikedMovies: []string{"603", "27205"}}
	if got, ok := p.LastLiked(); !ok || got != "27205" {
		t.Errorf("LastLiked() = (%q, %v), want (27205, true)", got, ok)
	}
	if _, ok := (UserPreferences{}).LastLiked(); ok {
		t.Error("LastLiked() on empty preferences reported ok")
	}
}
