// Package i18n resolves user-facing strings for the supported locales.
package i18n

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Fallback is the locale used when nothing better matches.
const Fallback = "en"

type localized map[string]string

type catalog struct {
	Locales           []string                        `yaml:"locales"`
	UI                map[string]localized            `yaml:"ui"`
	Experts           map[string]localized            `yaml:"experts"`
	Disclaimers       map[string][]string             `yaml:"disclaimers"`
	Actions           map[string]map[string][]string  `yaml:"actions"`
	CTA               map[string]map[string][]string  `yaml:"cta"`
	ExpertDisclaimers map[string]map[string][]string  `yaml:"expert_disclaimers"`
	Sections          map[string]map[string]localized `yaml:"sections"`
	Tips              map[string]map[string]localized `yaml:"tips"`
}

// Localizer looks up strings by key and locale with an English fallback.
type Localizer struct {
	cat     catalog
	matcher language.Matcher
	mu      sync.RWMutex
}

var (
	defaultOnce      sync.Once
	defaultLocalizer *Localizer
)

// Default returns the localizer built from the embedded catalog.
func Default() *Localizer {
	defaultOnce.Do(func() {
		l, err := Load(defaultCatalog)
		if err != nil {
			panic(fmt.Sprintf("i18n: embedded catalog: %v", err))
		}
		defaultLocalizer = l
	})
	return defaultLocalizer
}

// Load parses a YAML catalog.
func Load(data []byte) (*Localizer, error) {
	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cat.Locales) == 0 {
		return nil, errors.New("i18n: catalog declares no locales")
	}
	if cat.Tips == nil {
		cat.Tips = make(map[string]map[string]localized)
	}

	tags := make([]language.Tag, 0, len(cat.Locales))
	for _, l := range cat.Locales {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("parse locale %q: %w", l, err)
		}
		tags = append(tags, tag)
	}
	return &Localizer{cat: cat, matcher: language.NewMatcher(tags)}, nil
}

// Match negotiates a supported base locale for a client locale such as
// "ru-RU" or "en_GB". Unknown or empty input yields the first catalog locale.
func (l *Localizer) Match(locale string) string {
	tag, _ := language.Parse(locale)
	matched, _, _ := l.matcher.Match(tag)
	base, _ := matched.Base()
	return base.String()
}

// Locales lists the supported locales.
func (l *Localizer) Locales() []string {
	return append([]string(nil), l.cat.Locales...)
}

func pick(m localized, locale, fallback string) string {
	if s, ok := m[locale]; ok && s != "" {
		return s
	}
	if s, ok := m[Fallback]; ok && s != "" {
		return s
	}
	return fallback
}

func pickList(m map[string][]string, locale string) []string {
	if v, ok := m[locale]; ok {
		return append([]string(nil), v...)
	}
	return append([]string(nil), m[Fallback]...)
}

// UI returns a UI string, or key when unknown.
func (l *Localizer) UI(key, locale string) string {
	return pick(l.cat.UI[key], l.Match(locale), key)
}

// ExpertName returns the display name of an expert.
func (l *Localizer) ExpertName(expert, locale string) string {
	return pick(l.cat.Experts[expert], l.Match(locale), expert)
}

// Disclaimers returns the service-wide default disclaimers.
func (l *Localizer) Disclaimers(locale string) []string {
	return pickList(l.cat.Disclaimers, l.Match(locale))
}

// Actions returns the suggested follow-up actions of an expert.
func (l *Localizer) Actions(expert, locale string) []string {
	return pickList(l.cat.Actions[expert], l.Match(locale))
}

// CTA returns the call-to-action buttons of an expert.
func (l *Localizer) CTA(expert, locale string) []string {
	return pickList(l.cat.CTA[expert], l.Match(locale))
}

// ExpertDisclaimers returns disclaimers specific to an expert, possibly none.
func (l *Localizer) ExpertDisclaimers(expert, locale string) []string {
	return pickList(l.cat.ExpertDisclaimers[expert], l.Match(locale))
}

// SectionTitle returns a localized section heading, or section when unknown.
func (l *Localizer) SectionTitle(expert, section, locale string) string {
	return pick(l.cat.Sections[expert][section], l.Match(locale), section)
}

// Tip returns a short hint for a form step, or "" when none is registered.
func (l *Localizer) Tip(expert, step, locale string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return pick(l.cat.Tips[expert][step], l.Match(locale), "")
}

// RegisterTip adds or overrides a hint.
func (l *Localizer) RegisterTip(expert, step, locale, tip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	steps, ok := l.cat.Tips[expert]
	if !ok {
		steps = make(map[string]localized)
		l.cat.Tips[expert] = steps
	}
	if steps[step] == nil {
		steps[step] = make(localized)
	}
	steps[step][locale] = tip
}
