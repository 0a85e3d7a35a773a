package storage

import (
	"errors"
	"fmt"
)

const (
	ThemeKey    = "theme"
	LanguageKey = "language-app"

	LightTheme = "light-theme"
	DarkTheme  = "dark-theme"
)

var ErrUnknownPreference = errors.New("unknown preference")

// Preferences reads and writes the user's display preferences in a store.
type Preferences struct {
	store Store
}

func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// Theme returns the stored theme, or fallback when none is stored.
func (p *Preferences) Theme(fallback string) (string, error) {
	return p.get(ThemeKey, fallback)
}

func (p *Preferences) SetTheme(theme string) error {
	if theme != LightTheme && theme != DarkTheme {
		return fmt.Errorf("theme must be %s or %s, got %q", LightTheme, DarkTheme, theme)
	}
	return p.store.Set(ThemeKey, theme)
}

// Language returns the stored language, or fallback when none is stored.
func (p *Preferences) Language(fallback string) (string, error) {
	return p.get(LanguageKey, fallback)
}

func (p *Preferences) SetLanguage(lang string) error {
	if lang != "en" && lang != "es" {
		return fmt.Errorf("language must be en or es, got %q", lang)
	}
	return p.store.Set(LanguageKey, lang)
}

// Set stores a preference by key.
func (p *Preferences) Set(key, value string) error {
	switch key {
	case ThemeKey:
		return p.SetTheme(value)
	case LanguageKey, "language":
		return p.SetLanguage(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPreference, key)
	}
}

func (p *Preferences) get(key, fallback string) (string, error) {
	v, ok, err := p.store.Get(key)
	if err != nil {
		return fallback, fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	if !ok || v == "" {
		return fallback, nil
	}
	return v, nil
}
