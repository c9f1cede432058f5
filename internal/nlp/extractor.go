package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/serviya/platform/internal/llm"
	"github.com/serviya/platform/pkg/logging"
)

const (
	defaultMaxExpansionTerms = 6
	maxExpansionTermsCap     = 12
)

// Extractor resolves (service, city) from free text. The static synonym
// tables always run first; an optional LLM fills gaps and widens the search
// query with equivalent terms. Every LLM failure downgrades to the static
// result, never to an error.
type Extractor struct {
	llm      llm.Client
	logger   *logging.Logger
	expand   bool
	maxTerms int
}

type ExtractorOption func(*Extractor)

// WithExpansion toggles the LLM-backed synonym expansion.
func WithExpansion(enabled bool) ExtractorOption {
	return func(e *Extractor) {
		e.expand = enabled
	}
}

// WithMaxExpansionTerms caps how many synonyms the LLM may contribute.
func WithMaxExpansionTerms(n int) ExtractorOption {
	return func(e *Extractor) {
		if n < 1 {
			n = 1
		}
		if n > maxExpansionTermsCap {
			n = maxExpansionTermsCap
		}
		e.maxTerms = n
	}
}

// NewExtractor builds an Extractor. client may be nil, which disables all
// LLM-assisted paths.
func NewExtractor(client llm.Client, logger *logging.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Extractor{
		llm:      client,
		logger:   logger,
		expand:   true,
		maxTerms: defaultMaxExpansionTerms,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs the purely static scan over history plus the last message.
func (e *Extractor) Extract(history, last string) (service, city string) {
	canon := Canonical(history + " " + last)
	if canon == "" {
		return "", ""
	}
	service, _ = findService(canon)
	city, _ = findCity(canon)
	return service, city
}

// ExtractWithExpansion runs the static scan and then, when an LLM is
// configured, fills a missing service, expands the found service into
// equivalent terms, and resolves a missing city against the known set.
func (e *Extractor) ExtractWithExpansion(ctx context.Context, history, last string) (service, city string, expanded []string) {
	service, city = e.Extract(history, last)

	if e.llm == nil {
		if service != "" {
			expanded = []string{service}
		}
		return service, city, expanded
	}

	if service == "" {
		service = e.llmService(ctx, history, last)
	}
	if service == "" {
		return "", city, nil
	}

	expanded = []string{service}
	if e.expand {
		expanded = e.llmExpandTerms(ctx, service, last)
	}

	if city == "" {
		city = e.llmCity(ctx, history, last)
	}
	return service, city, expanded
}

func (e *Extractor) llmService(ctx context.Context, history, last string) string {
	prompt := fmt.Sprintf(
		"Mensaje del cliente: %q\nContexto previo: %q\n\nResponde con UNA sola palabra: el oficio o servicio que el cliente necesita (ejemplo: plomero, electricista). Si no hay ningun servicio identificable responde exactamente null.",
		last, history,
	)
	resp, err := e.llm.Complete(ctx, llm.Request{
		Op:          "extract_service",
		System:      "Eres un clasificador de servicios para un marketplace ecuatoriano. Respondes solo con el termino pedido, sin explicaciones.",
		Messages:    []llm.Message{{Role: llm.ChatRoleUser, Content: prompt}},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		e.logger.Debug("llm service extraction failed", "error", err)
		return ""
	}
	term := Canonical(resp.Text)
	if term == "" || term == "null" || term == "ninguno" {
		return ""
	}
	return term
}

func (e *Extractor) llmExpandTerms(ctx context.Context, service, last string) []string {
	prompt := fmt.Sprintf(
		"Servicio: %q. Mensaje original: %q.\nDevuelve un arreglo JSON con hasta %d terminos equivalentes en espanol e ingles para buscar este servicio (incluye el termino original). Solo el arreglo JSON, nada mas.",
		service, last, e.maxTerms,
	)
	resp, err := e.llm.Complete(ctx, llm.Request{
		Op:          "expand_terms",
		System:      "Generas sinonimos de busqueda. Respondes unicamente con un arreglo JSON de strings.",
		Messages:    []llm.Message{{Role: llm.ChatRoleUser, Content: prompt}},
		MaxTokens:   128,
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Debug("llm term expansion failed", "service", service, "error", err)
		return []string{service}
	}

	terms, err := parseStringArray(resp.Text)
	if err != nil || len(terms) == 0 {
		e.logger.Debug("llm term expansion unparseable", "service", service, "raw", resp.Text)
		return []string{service}
	}
	if len(terms) > e.maxTerms {
		terms = terms[:e.maxTerms]
	}
	return terms
}

func (e *Extractor) llmCity(ctx context.Context, history, last string) string {
	prompt := fmt.Sprintf(
		"Mensaje: %q\nContexto: %q\nCiudades conocidas: %s.\nResponde con el nombre exacto de la ciudad mencionada si es una de las conocidas; en caso contrario responde exactamente null.",
		last, history, strings.Join(KnownCities(), ", "),
	)
	resp, err := e.llm.Complete(ctx, llm.Request{
		Op:          "extract_city",
		System:      "Identificas ciudades de Ecuador. Respondes solo con el nombre o null.",
		Messages:    []llm.Message{{Role: llm.ChatRoleUser, Content: prompt}},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		e.logger.Debug("llm city extraction failed", "error", err)
		return ""
	}
	raw := strings.TrimSpace(resp.Text)
	if raw == "" || strings.EqualFold(raw, "null") {
		return ""
	}
	if city, ok := NormalizeCityInput(raw); ok {
		return city
	}
	return ""
}

// parseStringArray decodes a JSON string array, tolerating the markdown
// fences some models wrap around code output.
func parseStringArray(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("nlp: no JSON array in %q", raw)
	}

	var terms []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &terms); err != nil {
		return nil, fmt.Errorf("nlp: decode term array: %w", err)
	}
	out := terms[:0]
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			out = append(out, strings.TrimSpace(t))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("nlp: term array empty")
	}
	return out, nil
}
