package triage

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Placeholder replaces a section the model did not produce.
const Placeholder = "Informação não disponível."

// Section is a tagged parse result: Found with its text, or not found.
type Section struct {
	Found bool   `json:"found"`
	Text  string `json:"text,omitempty"`
}

// OrPlaceholder returns the section text, or Placeholder when not found.
func (s Section) OrPlaceholder() string {
	if !s.Found {
		return Placeholder
	}
	return s.Text
}

// MarshalJSON renders a missing section with the placeholder text so API
// clients display the same thing as the notifications.
func (s Section) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}{s.Found, s.OrPlaceholder()})
}

// Sections holds the three parts of a structured triage answer.
type Sections struct {
	Diagnosis Section `json:"diagnosis"`
	Risk      Section `json:"risk"`
	Conduct   Section `json:"conduct"`
}

// RiskColor is the tier named inside the risk section only. Colour words in
// other sections never classify the answer.
func (s Sections) RiskColor() Color {
	if !s.Risk.Found {
		return ColorUnclassified
	}
	return DetectColor(s.Risk.Text)
}

type sectionKind int

const (
	sectionDiagnosis sectionKind = iota
	sectionRisk
	sectionConduct
	numSections
)

// Header names the model is instructed to use, plus English equivalents.
var headerPatterns = [numSections]*regexp.Regexp{
	sectionDiagnosis: headerRegexp("Diagnóstico", "Diagnosis"),
	sectionRisk:      headerRegexp("Classificação de Risco", "Risk Classification"),
	sectionConduct:   headerRegexp("Conduta Clínica Inicial", "Initial Clinical Conduct"),
}

func headerRegexp(names ...string) *regexp.Regexp {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
}

// Parse splits a model answer into sections by locating header substrings.
// A section runs from the end of its header to the next header found after it,
// or to the end of the text. Missing headers yield an unfound Section.
func Parse(text string) Sections {
	type span struct {
		found      bool
		start, end int // header match bounds
	}
	var spans [numSections]span
	for k, re := range headerPatterns {
		if loc := re.FindStringIndex(text); loc != nil {
			spans[k] = span{found: true, start: loc[0], end: loc[1]}
		}
	}

	var out [numSections]Section
	for k, sp := range spans {
		if !sp.found {
			continue
		}
		stop := len(text)
		for j, other := range spans {
			if j == k || !other.found {
				continue
			}
			if other.start >= sp.end && other.start < stop {
				stop = other.start
			}
		}
		out[k] = Section{Found: true, Text: cleanSection(text[sp.end:stop])}
	}
	return Sections{
		Diagnosis: out[sectionDiagnosis],
		Risk:      out[sectionRisk],
		Conduct:   out[sectionConduct],
	}
}

// cleanSection strips markdown emphasis, heading marks and the header colon.
func cleanSection(s string) string {
	return strings.Trim(s, " \t\r\n*#:")
}

// Color is a risk-classification tier.
type Color string

const (
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"

	// ColorUnclassified is the display fallback when no tier is recognised.
	ColorUnclassified Color = "unclassified"
)

type colorInfo struct {
	label string
	hex   string
	emoji string
	match *regexp.Regexp
}

// colorOrder is the match precedence, most urgent first.
var colorOrder = []Color{ColorRed, ColorOrange, ColorYellow, ColorGreen, ColorBlue}

var colors = map[Color]colorInfo{
	ColorRed:          {"Vermelha", "#B22222", "🟥", wordRegexp("vermelha", "vermelho", "red")},
	ColorOrange:       {"Laranja", "#FFA500", "🟧", wordRegexp("laranja", "orange")},
	ColorYellow:       {"Amarela", "#FFD700", "🟨", wordRegexp("amarela", "amarelo", "yellow")},
	ColorGreen:        {"Verde", "#32CD32", "🟩", wordRegexp("verde", "green")},
	ColorBlue:         {"Azul", "#1E90FF", "🟦", wordRegexp("azul", "blue")},
	ColorUnclassified: {"", "#DAA520", "🟡", nil},
}

func wordRegexp(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

// Label is the Portuguese tier name used in case-base text; empty when unclassified.
func (c Color) Label() string { return colors[c.normalize()].label }

// Hex is the display colour.
func (c Color) Hex() string { return colors[c.normalize()].hex }

// Emoji is the display marker.
func (c Color) Emoji() string { return colors[c.normalize()].emoji }

func (c Color) normalize() Color {
	if _, ok := colors[c]; ok {
		return c
	}
	return ColorUnclassified
}

// DetectColor returns the first tier named in text, in red-to-blue order,
// matching Portuguese or English names case-insensitively as whole words.
func DetectColor(text string) Color {
	for _, c := range colorOrder {
		if colors[c].match.MatchString(text) {
			return c
		}
	}
	return ColorUnclassified
}

// ClassifyResponse derives the tier of a stored answer for the validation
// label: the risk section when it names one, otherwise the whole text.
func ClassifyResponse(text string) Color {
	if risk := Parse(text).Risk; risk.Found {
		if c := DetectColor(risk.Text); c != ColorUnclassified {
			return c
		}
	}
	return DetectColor(text)
}
