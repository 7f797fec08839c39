// Package onboarding implements the three-step wizard that collects a new
// visitor's taste preferences: moods, liked and disliked titles, then
// languages, countries and content restrictions.
package onboarding

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

// Step is a wizard page, numbered from 1.
type Step int

const (
	StepMoods Step = iota + 1
	StepTitles
	StepFilters
)

// StepCount is the number of wizard pages.
const StepCount = int(StepFilters)

// MinRatedTitles is how many titles must be liked or disliked before the
// second step can be left.
const MinRatedTitles = 5

// DefaultLanguage is preselected on the last step.
const DefaultLanguage = "English"

// Choice names a selectable field of the wizard.
type Choice string

const (
	ChoiceMood        Choice = "mood"
	ChoiceLike        Choice = "like"
	ChoiceDislike     Choice = "dislike"
	ChoiceLanguage    Choice = "language"
	ChoiceCountry     Choice = "country"
	ChoiceRestriction Choice = "restriction"
)

var (
	ErrIncompleteStep = errors.New("current step is incomplete")
	ErrUnknownChoice  = errors.New("unknown choice")
	ErrUnknownOption  = errors.New("unknown option")
	ErrWrongStep      = errors.New("choice not available on this step")
)

// State is a snapshot of the wizard.
type State struct {
	Step                Step     `json:"step"`
	Moods               []string `json:"moods"`
	LikedMovies         []string `json:"likedMovies"`
	DislikedMovies      []string `json:"dislikedMovies"`
	Languages           []string `json:"languages"`
	Countries           []string `json:"countries"`
	ContentRestrictions []string `json:"contentRestrictions"`
	CanProceed          bool     `json:"canProceed"`
	Rated               int      `json:"rated"`
}

// Wizard holds one visitor's in-progress onboarding. It is safe for
// concurrent use.
type Wizard struct {
	mu    sync.Mutex
	state State
}

// NewWizard returns a wizard on the first step with default selections.
func NewWizard() *Wizard {
	w := &Wizard{}
	w.reset()
	return w
}

// Reset discards all selections and returns to the first step.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

func (w *Wizard) reset() {
	w.state = State{
		Step:                StepMoods,
		Moods:               []string{},
		LikedMovies:         []string{},
		DislikedMovies:      []string{},
		Languages:           []string{DefaultLanguage},
		Countries:           []string{},
		ContentRestrictions: []string{},
	}
}

// State returns a copy of the current selections.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

func (w *Wizard) snapshot() State {
	s := w.state
	s.Moods = slices.Clone(s.Moods)
	s.LikedMovies = slices.Clone(s.LikedMovies)
	s.DislikedMovies = slices.Clone(s.DislikedMovies)
	s.Languages = slices.Clone(s.Languages)
	s.Countries = slices.Clone(s.Countries)
	s.ContentRestrictions = slices.Clone(s.ContentRestrictions)
	s.Rated = len(s.LikedMovies) + len(s.DislikedMovies)
	s.CanProceed = w.canProceed()
	return s
}

// Toggle flips value in the field named by choice. Choices only apply on
// their own step. Liking a title removes it from the disliked titles and
// vice versa.
func (w *Wizard) Toggle(choice Choice, value string) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := &w.state
	switch choice {
	case ChoiceMood:
		if err := w.expect(StepMoods, choice); err != nil {
			return State{}, err
		}
		if !hasOption(Moods, value) {
			return State{}, fmt.Errorf("%w: mood %q", ErrUnknownOption, value)
		}
		s.Moods = toggle(s.Moods, value)
	case ChoiceLike, ChoiceDislike:
		if err := w.expect(StepTitles, choice); err != nil {
			return State{}, err
		}
		if value == "" {
			return State{}, fmt.Errorf("%w: empty title", ErrUnknownOption)
		}
		if choice == ChoiceLike {
			s.LikedMovies, s.DislikedMovies = rate(s.LikedMovies, s.DislikedMovies, value)
		} else {
			s.DislikedMovies, s.LikedMovies = rate(s.DislikedMovies, s.LikedMovies, value)
		}
	case ChoiceLanguage:
		if err := w.expect(StepFilters, choice); err != nil {
			return State{}, err
		}
		if !slices.Contains(Languages, value) {
			return State{}, fmt.Errorf("%w: language %q", ErrUnknownOption, value)
		}
		s.Languages = toggle(s.Languages, value)
	case ChoiceCountry:
		if err := w.expect(StepFilters, choice); err != nil {
			return State{}, err
		}
		if !slices.Contains(Countries, value) {
			return State{}, fmt.Errorf("%w: country %q", ErrUnknownOption, value)
		}
		s.Countries = toggle(s.Countries, value)
	case ChoiceRestriction:
		if err := w.expect(StepFilters, choice); err != nil {
			return State{}, err
		}
		if !hasOption(ContentFlags, value) {
			return State{}, fmt.Errorf("%w: restriction %q", ErrUnknownOption, value)
		}
		s.ContentRestrictions = toggle(s.ContentRestrictions, value)
	default:
		return State{}, fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	return w.snapshot(), nil
}

func (w *Wizard) expect(step Step, choice Choice) error {
	if w.state.Step != step {
		return fmt.Errorf("%w: %s on step %d", ErrWrongStep, choice, w.state.Step)
	}
	return nil
}

// CanProceed reports whether the current step's gate is satisfied.
func (w *Wizard) CanProceed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canProceed()
}

func (w *Wizard) canProceed() bool {
	switch w.state.Step {
	case StepMoods:
		return len(w.state.Moods) > 0
	case StepTitles:
		return len(w.state.LikedMovies)+len(w.state.DislikedMovies) >= MinRatedTitles
	case StepFilters:
		return true
	}
	return false
}

// Next advances one step. On the last step it returns the completed
// preferences with done set; the wizard keeps its selections until Reset.
func (w *Wizard) Next() (prefs movies.UserPreferences, done bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.canProceed() {
		return movies.UserPreferences{}, false, ErrIncompleteStep
	}
	if w.state.Step < StepFilters {
		w.state.Step++
		return movies.UserPreferences{}, false, nil
	}

	s := w.snapshot()
	return movies.UserPreferences{
		SchemaVersion:       movies.PreferencesSchemaVersion,
		Moods:               s.Moods,
		LikedMovies:         s.LikedMovies,
		DislikedMovies:      s.DislikedMovies,
		Languages:           s.Languages,
		Countries:           s.Countries,
		ContentRestrictions: s.ContentRestrictions,
		FamiliarityLevel:    movies.DefaultFamiliarity,
		ExcludeFilters:      []string{},
	}, true, nil
}

// Back returns to the previous step. It is a no-op on the first step.
func (w *Wizard) Back() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Step > StepMoods {
		w.state.Step--
	}
	return w.snapshot()
}

func toggle(set []string, v string) []string {
	if slices.Contains(set, v) {
		return slices.DeleteFunc(set, func(s string) bool { return s == v })
	}
	return append(set, v)
}

// rate toggles v in primary; adding it removes it from other.
func rate(primary, other []string, v string) ([]string, []string) {
	if slices.Contains(primary, v) {
		return slices.DeleteFunc(primary, func(s string) bool { return s == v }), other
	}
	return append(primary, v), slices.DeleteFunc(other, func(s string) bool { return s == v })
}
