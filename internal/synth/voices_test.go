package synth

import (
	"errors"
	"testing"
)

func catalog() []Voice {
	return []Voice{
		{ShortName: "en-US-AndrewMultilingualNeural", Locale: "en-US", Gender: "Male"},
		{ShortName: "en-US-AriaNeural", Locale: "en-US", Gender: "Female"},
		{ShortName: "en-GB-SoniaNeural", Locale: "en-GB", Gender: "Female"},
		{ShortName: "de-DE-KatjaNeural", Locale: "de-DE", Gender: "Female"},
		{ShortName: "fr-FR-DeniseNeural", Locale: "fr-FR", Gender: "Female"},
	}
}

func TestFilterLocaleLanguageOnly(t *testing.T) {
	got := FilterLocale(catalog(), "en")
	if len(got) != 3 {
		t.Fatalf("Expected 3 English voices, got %d", len(got))
	}
	for _, v := range got {
		if v.Locale != "en-US" && v.Locale != "en-GB" {
			t.Errorf("Unexpected locale %q", v.Locale)
		}
	}
}

func TestFilterLocaleExactRegion(t *testing.T) {
	got := FilterLocale(catalog(), "en-GB")
	if len(got) != 1 {
		t.Fatalf("Expected 1 voice for en-GB, got %d", len(got))
	}
	if got[0].ShortName != "en-GB-SoniaNeural" {
		t.Errorf("Expected SoniaNeural, got %q", got[0].ShortName)
	}
}

func TestFilterLocaleInvalidTag(t *testing.T) {
	if got := FilterLocale(catalog(), "!!!"); got != nil {
		t.Errorf("Expected nil for unparseable tag, got %v", got)
	}
}

func TestFilterName(t *testing.T) {
	got := FilterName(catalog(), "aria")
	if len(got) == 0 {
		t.Fatal("Expected fuzzy matches for aria")
	}
	if got[0].ShortName != "en-US-AriaNeural" {
		t.Errorf("Expected AriaNeural as best match, got %q", got[0].ShortName)
	}

	if got := FilterName(catalog(), ""); len(got) != len(catalog()) {
		t.Errorf("Expected empty pattern to keep the catalog, got %d entries", len(got))
	}
}

func TestResolveExact(t *testing.T) {
	v, err := Resolve(catalog(), "en-us-arianeural")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if v.ShortName != "en-US-AriaNeural" {
		t.Errorf("Expected case-insensitive exact match, got %q", v.ShortName)
	}
}

func TestResolveFuzzy(t *testing.T) {
	v, err := Resolve(catalog(), "katja")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if v.ShortName != "de-DE-KatjaNeural" {
		t.Errorf("Expected KatjaNeural, got %q", v.ShortName)
	}
}

func TestResolveNotFound(t *testing.T) {
	_, err := Resolve(catalog(), "zzzzqqqq")
	if !errors.Is(err, ErrVoiceNotFound) {
		t.Errorf("Expected ErrVoiceNotFound, got %v", err)
	}

	if _, err := Resolve(catalog(), ""); !errors.Is(err, ErrVoiceNotFound) {
		t.Errorf("Expected ErrVoiceNotFound for empty query, got %v", err)
	}
}

func TestSortByLocale(t *testing.T) {
	voices := catalog()
	SortByLocale(voices)

	if voices[0].Locale != "de-DE" {
		t.Errorf("Expected de-DE first, got %q", voices[0].Locale)
	}
	for i := 1; i < len(voices); i++ {
		if voices[i-1].Locale > voices[i].Locale {
			t.Errorf("Locales out of order at %d: %q > %q", i, voices[i-1].Locale, voices[i].Locale)
		}
	}
}
