package breakdown

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage is used for any unset language slot.
const DefaultLanguage = "en"

// Languages selects the output language of each part of the breakdown, as
// BCP 47 tags.
type Languages struct {
	Script     string `json:"script"`
	Storyboard string `json:"storyboard"`
	Prompt     string `json:"prompt"`
}

// Normalize fills unset slots with DefaultLanguage and canonicalizes each
// tag. An unparseable tag is an error.
func (l Languages) Normalize() (Languages, error) {
	var err error
	if l.Script, err = canonicalTag("script", l.Script); err != nil {
		return Languages{}, err
	}
	if l.Storyboard, err = canonicalTag("storyboard", l.Storyboard); err != nil {
		return Languages{}, err
	}
	if l.Prompt, err = canonicalTag("prompt", l.Prompt); err != nil {
		return Languages{}, err
	}
	return l, nil
}

func canonicalTag(slot, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultLanguage
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s language %q: %w", slot, raw, err)
	}
	return tag.String(), nil
}

// DisplayName renders a tag as an English language name for prompts, e.g.
// "ko" becomes "Korean". Unknown tags are returned unchanged.
func DisplayName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}
