package synth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/language"
)

// DefaultVoice is used when neither the book, the settings nor the config
// name one.
const DefaultVoice = "en-US-AndrewMultilingualNeural"

// ErrVoiceNotFound reports that a voice query matched nothing in the
// catalog.
var ErrVoiceNotFound = errors.New("voice not found in catalog")

// FilterLocale returns the voices matching a BCP 47 tag. A bare language
// ("en") matches every region; a full tag ("en-GB") matches exactly.
func FilterLocale(voices []Voice, locale string) []Voice {
	want, err := language.Parse(locale)
	if err != nil {
		return nil
	}
	wantBase, _ := want.Base()
	wantRegion, regionConf := want.Region()

	var out []Voice
	for _, v := range voices {
		got, err := language.Parse(v.Locale)
		if err != nil {
			continue
		}
		gotBase, _ := got.Base()
		if gotBase != wantBase {
			continue
		}
		if regionConf == language.Exact {
			gotRegion, _ := got.Region()
			if gotRegion != wantRegion {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// FilterName fuzzy-matches pattern against voice short names, best match
// first. An empty pattern returns the catalog unchanged.
func FilterName(voices []Voice, pattern string) []Voice {
	if pattern == "" {
		return voices
	}

	names := make([]string, len(voices))
	for i, v := range voices {
		names[i] = v.ShortName
	}

	matches := fuzzy.Find(pattern, names)
	out := make([]Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

// Resolve maps a user-supplied voice string to a catalog entry: exact short
// name match first, case-insensitively, then best fuzzy match.
func Resolve(voices []Voice, query string) (Voice, error) {
	if query == "" {
		return Voice{}, ErrVoiceNotFound
	}

	for _, v := range voices {
		if strings.EqualFold(v.ShortName, query) {
			return v, nil
		}
	}

	matched := FilterName(voices, query)
	if len(matched) == 0 {
		return Voice{}, fmt.Errorf("%w: %q", ErrVoiceNotFound, query)
	}
	return matched[0], nil
}

// SortByLocale orders voices by locale, then short name. The sort is stable
// so catalog order breaks remaining ties.
func SortByLocale(voices []Voice) {
	sort.SliceStable(voices, func(i, j int) bool {
		if voices[i].Locale != voices[j].Locale {
			return voices[i].Locale < voices[j].Locale
		}
		return voices[i].ShortName < voices[j].ShortName
	})
}
