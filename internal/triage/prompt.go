package triage

import (
	"strings"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

const systemPrompt = "Você é um profissional de saúde responsável por analisar sintomas clínicos no " +
	"Hospital de Clínicas de Ijuí. Seu objetivo é classificar o diagnóstico mais provável com base na " +
	"CID-10, informando o código correspondente e sugerindo condutas clínicas iniciais apropriadas ao " +
	"caso. Não inclua informações irrelevantes ou fora do contexto clínico."

const structurePrompt = `Com base nos sintomas descritos e nos casos similares fornecidos, elabore uma resposta estruturada contendo as seguintes seções:

Diagnóstico
Nome (CID-10: [CÓDIGO]): [Nome da condição diagnosticada]

Classificação de Risco
Cor: [Vermelha | Laranja | Amarela | Verde | Azul]
Justificativa: [Explique clinicamente os motivos da classificação com base nos sintomas, sinais vitais e idade do paciente]

Conduta Clínica Inicial
Encaminhamento: [Para onde o paciente deve ser encaminhado]
Objetivo: [O que deve ser feito inicialmente com o paciente: exames, estabilização, etc.]

Responda de forma objetiva, clara, curta e seguindo linguagem médica. Evite informações desnecessárias ou fora do contexto clínico.`

// buildSystemPrompt returns the fixed clinical role instruction.
func buildSystemPrompt() string {
	return systemPrompt
}

// buildMessages returns the user messages: the new case with retrieved context,
// then the output-structure instruction.
func buildMessages(symptoms string, similar []casebase.Match) []Message {
	texts := make([]string, len(similar))
	for i, m := range similar {
		texts[i] = m.Text
	}
	return []Message{
		{Role: "user", Content: "Sintomas do novo caso: " + symptoms + "\n\nCasos Similares: " + strings.Join(texts, " ")},
		{Role: "user", Content: structurePrompt},
	}
}

// caseText formats a validated record as case-base text.
func caseText(symptoms string, c Color, feedback string) string {
	text := symptoms + " Classificação: " + c.Label() + "."
	if feedback != "" {
		text += " Feedback especialista: " + feedback
	}
	return text
}

// annotateFeedback appends the case-base cross-reference to reviewer feedback.
func annotateFeedback(feedback, caseID string) string {
	ref := "Caso adicionado ao banco de conhecimento com ID: " + caseID
	if feedback == "" {
		return ref
	}
	return feedback + "\n\n" + ref
}
