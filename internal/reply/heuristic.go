package reply

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

type rule struct {
	name       string
	keywords   []string
	confidence float64
	escalate   bool
	answer     func(cfg *models.AIConfiguration, text string) string
}

// Heuristic is a keyword-matching stand-in for a model-backed generator.
type Heuristic struct {
	rules []rule
}

// NewHeuristic returns the default Spanish-language rule set.
func NewHeuristic() *Heuristic {
	return &Heuristic{rules: []rule{
		{
			name:       "advisor",
			keywords:   []string{"asesor", "humano", "persona real", "hablar con alguien", "operador", "agente", "queja", "reclamo"},
			confidence: 0.9,
			escalate:   true,
			answer: func(*models.AIConfiguration, string) string {
				return "Entiendo. Te voy a comunicar con uno de nuestros asesores; en breve una persona de nuestro equipo continuará la conversación contigo."
			},
		},
		{
			name:       "thanks",
			keywords:   []string{"gracias", "muy amable", "thank"},
			confidence: 0.9,
			answer: func(*models.AIConfiguration, string) string {
				return "¡Con gusto! Si necesitas algo más, aquí estamos para ayudarte."
			},
		},
		{
			name:       "price",
			keywords:   []string{"precio", "costo", "cuanto cuesta", "cuanto vale", "tarifa", "cotizacion"},
			confidence: 0.7,
			answer: func(cfg *models.AIConfiguration, text string) string {
				if s := knowledgeSentence(cfg, text, "precio", "costo", "tarifa"); s != "" {
					return s + " ¿Te gustaría que te compartamos más detalles?"
				}
				return "Con gusto te compartimos precios. ¿Qué producto o servicio te interesa?"
			},
		},
		{
			name:       "hours",
			keywords:   []string{"horario", "abren", "cierran", "a que hora", "atienden"},
			confidence: 0.75,
			answer: func(cfg *models.AIConfiguration, text string) string {
				if s := knowledgeSentence(cfg, text, "horario", "abrimos", "atendemos"); s != "" {
					return s
				}
				return "Nuestro equipo atiende en horario laboral. Déjanos tu mensaje y te responderemos lo antes posible."
			},
		},
		{
			name:       "greeting",
			keywords:   []string{"hola", "buenos dias", "buenas tardes", "buenas noches", "buen dia", "hello", "hi"},
			confidence: 0.85,
			answer: func(*models.AIConfiguration, string) string {
				return "¡Hola! Gracias por escribirnos. ¿En qué podemos ayudarte hoy?"
			},
		},
	}}
}

// Generate answers the pending customer burst. The first matching rule wins;
// otherwise a knowledge-base sentence, otherwise a low-confidence prompt.
func (h *Heuristic) Generate(_ context.Context, message string, history []Turn, cfg *models.AIConfiguration) (Result, error) {
	text := fold(PendingText(history, message))

	for _, r := range h.rules {
		if containsAny(text, r.keywords) {
			return Result{Text: r.answer(cfg, text), Confidence: r.confidence, Escalate: r.escalate}, nil
		}
	}

	if s := knowledgeSentence(cfg, text); s != "" {
		return Result{Text: s, Confidence: 0.6}, nil
	}
	return Result{
		Text:       "Gracias por tu mensaje. ¿Podrías darnos un poco más de detalle sobre lo que necesitas?",
		Confidence: 0.3,
	}, nil
}

// knowledgeSentence returns the knowledge-base sentence sharing the most
// significant words with text, preferring sentences that mention a hint.
func knowledgeSentence(cfg *models.AIConfiguration, text string, hints ...string) string {
	if cfg == nil || strings.TrimSpace(cfg.KnowledgeBase) == "" {
		return ""
	}
	words := significantWords(text)
	best, bestScore := "", 0
	for _, sentence := range splitSentences(cfg.KnowledgeBase) {
		folded := fold(sentence)
		score := 0
		for _, w := range words {
			if strings.Contains(folded, w) {
				score++
			}
		}
		if containsAny(folded, hints) {
			score += 2
		}
		if score > bestScore {
			best, bestScore = sentence, score
		}
	}
	return best
}

func splitSentences(s string) []string {
	f := func(r rune) bool { return r == '.' || r == '\n' || r == '!' || r == '?' }
	var out []string
	for _, part := range strings.FieldsFunc(s, f) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p+".")
		}
	}
	return out
}

func significantWords(text string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) }) {
		if len([]rune(w)) >= 4 {
			out = append(out, w)
		}
	}
	return out
}

// containsAny matches whole words or phrases, so "hi" does not match "chile".
func containsAny(text string, keywords []string) bool {
	padded := " " + strings.Join(strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) }), " ") + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") {
			return true
		}
	}
	return false
}

// fold lower-cases and strips diacritics: "Cotización" -> "cotizacion".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
