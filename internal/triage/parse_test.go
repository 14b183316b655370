package triage

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleResponse = `**Diagnóstico**
Meningite bacteriana (CID-10: G00.9)

**Classificação de Risco**
Cor: Vermelha
Justificativa: febre alta com rigidez de nuca sugere infecção do sistema nervoso central.

**Conduta Clínica Inicial**
Encaminhamento: sala de emergência
Objetivo: coleta de hemoculturas, punção lombar e antibioticoterapia empírica.`

func TestParse_AllSections(t *testing.T) {
	t.Parallel()

	s := Parse(sampleResponse)

	if !s.Diagnosis.Found || !strings.HasPrefix(s.Diagnosis.Text, "Meningite bacteriana") {
		t.Errorf("Diagnosis = %+v", s.Diagnosis)
	}
	if !s.Risk.Found || !strings.HasPrefix(s.Risk.Text, "Cor: Vermelha") {
		t.Errorf("Risk = %+v", s.Risk)
	}
	if !s.Conduct.Found || !strings.HasSuffix(s.Conduct.Text, "antibioticoterapia empírica.") {
		t.Errorf("Conduct = %+v", s.Conduct)
	}
	if strings.Contains(s.Diagnosis.Text, "Classificação") {
		t.Errorf("Diagnosis leaked into next section: %q", s.Diagnosis.Text)
	}
	if strings.Contains(s.Risk.Text, "**") {
		t.Errorf("Risk kept markdown markers: %q", s.Risk.Text)
	}
}

func TestParse_MissingSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                           string
		text                           string
		wantDiagnosis, wantRisk, wantC bool
	}{
		{"empty", "", false, false, false},
		{"prose only", "O paciente deve procurar atendimento.", false, false, false},
		{"no conduct", "Diagnóstico: gripe\nClassificação de Risco: Verde", true, true, false},
		{"only conduct", "Conduta Clínica Inicial: repouso", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Parse(tt.text)
			if s.Diagnosis.Found != tt.wantDiagnosis {
				t.Errorf("Diagnosis.Found = %v, want %v", s.Diagnosis.Found, tt.wantDiagnosis)
			}
			if s.Risk.Found != tt.wantRisk {
				t.Errorf("Risk.Found = %v, want %v", s.Risk.Found, tt.wantRisk)
			}
			if s.Conduct.Found != tt.wantC {
				t.Errorf("Conduct.Found = %v, want %v", s.Conduct.Found, tt.wantC)
			}
		})
	}
}

func TestParse_EnglishHeadersAndCase(t *testing.T) {
	t.Parallel()

	s := Parse("DIAGNOSIS: migraine\nrisk classification: Green\nInitial Clinical Conduct: analgesia")
	if s.Diagnosis.Text != "migraine" {
		t.Errorf("Diagnosis.Text = %q, want migraine", s.Diagnosis.Text)
	}
	if s.Risk.Text != "Green" {
		t.Errorf("Risk.Text = %q, want Green", s.Risk.Text)
	}
	if s.Conduct.Text != "analgesia" {
		t.Errorf("Conduct.Text = %q, want analgesia", s.Conduct.Text)
	}
}

func TestParse_OutOfOrderSections(t *testing.T) {
	t.Parallel()

	s := Parse("Conduta Clínica Inicial: observação\nDiagnóstico: cefaleia tensional")
	if s.Conduct.Text != "observação" {
		t.Errorf("Conduct.Text = %q, want observação", s.Conduct.Text)
	}
	if s.Diagnosis.Text != "cefaleia tensional" {
		t.Errorf("Diagnosis.Text = %q, want cefaleia tensional", s.Diagnosis.Text)
	}
}

func TestSection_OrPlaceholder(t *testing.T) {
	t.Parallel()

	if got := (Section{}).OrPlaceholder(); got != Placeholder {
		t.Errorf("unfound = %q, want %q", got, Placeholder)
	}
	if got := (Section{Found: true, Text: "x"}).OrPlaceholder(); got != "x" {
		t.Errorf("found = %q, want x", got)
	}
}

func TestDetectColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Color
	}{
		{"Cor: Vermelha", ColorRed},
		{"cor: LARANJA", ColorOrange},
		{"Cor: amarela", ColorYellow},
		{"Cor: Verde", ColorGreen},
		{"Cor: Azul", ColorBlue},
		{"Color: Red", ColorRed},
		{"Color: yellow", ColorYellow},
		{"sem classificação", ColorUnclassified},
		{"", ColorUnclassified},
		// English names only match as whole words
		{"considered stable, referred to clinic", ColorUnclassified},
		// most urgent wins when several are named
		{"Verde ou Vermelha", ColorRed},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := DetectColor(tt.text); got != tt.want {
				t.Errorf("DetectColor(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestColor_Display(t *testing.T) {
	t.Parallel()

	tests := []struct {
		c                 Color
		label, hex, emoji string
	}{
		{ColorRed, "Vermelha", "#B22222", "🟥"},
		{ColorOrange, "Laranja", "#FFA500", "🟧"},
		{ColorYellow, "Amarela", "#FFD700", "🟨"},
		{ColorGreen, "Verde", "#32CD32", "🟩"},
		{ColorBlue, "Azul", "#1E90FF", "🟦"},
		{ColorUnclassified, "", "#DAA520", "🟡"},
		{Color("bogus"), "", "#DAA520", "🟡"},
	}
	for _, tt := range tests {
		if tt.c.Label() != tt.label || tt.c.Hex() != tt.hex || tt.c.Emoji() != tt.emoji {
			t.Errorf("%q = (%q, %q, %q), want (%q, %q, %q)",
				tt.c, tt.c.Label(), tt.c.Hex(), tt.c.Emoji(), tt.label, tt.hex, tt.emoji)
		}
	}
}

func TestClassifyResponse(t *testing.T) {
	t.Parallel()

	if got := ClassifyResponse(sampleResponse); got != ColorRed {
		t.Errorf("sample = %q, want red", got)
	}
	// risk section wins over colours mentioned elsewhere
	text := "Diagnóstico: lesão azul-arroxeada\nClassificação de Risco\nCor: Amarela"
	if got := ClassifyResponse(text); got != ColorYellow {
		t.Errorf("risk section = %q, want yellow", got)
	}
	// falls back to the whole text without a risk header
	if got := ClassifyResponse("classificado como verde"); got != ColorGreen {
		t.Errorf("no header = %q, want green", got)
	}
}

func TestSections_RiskColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want Color
	}{
		{"risk section names colour", sampleResponse, ColorRed},
		{"no risk section", "Encaminhamento: sala verde", ColorUnclassified},
		{"colour only outside risk", "**Classificação de Risco**\nCor: indeterminada\n\n**Conduta Clínica Inicial**\nsala verde", ColorUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.text).RiskColor(); got != tt.want {
				t.Errorf("RiskColor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSection_MarshalJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Sections{Diagnosis: Section{Found: true, Text: "Gripe"}})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !got["diagnosis"].Found || got["diagnosis"].Text != "Gripe" {
		t.Errorf("diagnosis = %+v", got["diagnosis"])
	}
	if got["risk"].Found || got["risk"].Text != Placeholder {
		t.Errorf("risk = %+v, want placeholder text", got["risk"])
	}
}
