package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/serviya/platform/internal/llm"
)

// scriptedLLM returns canned responses keyed by request op.
type scriptedLLM struct {
	responses map[string]string
	err       error
	calls     []string
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.calls = append(s.calls, req.Op)
	if s.err != nil {
		return llm.Response{}, s.err
	}
	text, ok := s.responses[req.Op]
	if !ok {
		return llm.Response{}, errors.New("unexpected op " + req.Op)
	}
	return llm.Response{Text: text}, nil
}

func TestExtractStatic(t *testing.T) {
	e := NewExtractor(nil, nil)

	tests := []struct {
		text    string
		service string
		city    string
	}{
		{"necesito un plomero en Quito", "plomero", "Quito"},
		{"tengo una fuga de agua en cueca", "plomero", "Cuenca"},
		{"se me daño la refrigeradora", "tecnico", ""},
		{"busco electricista", "electricista", ""},
		{"en Guayaquil por favor", "", "Guayaquil"},
		{"hola como estas", "", ""},
	}
	for _, tt := range tests {
		service, city := e.Extract("", tt.text)
		if service != tt.service || city != tt.city {
			t.Fatalf("Extract(%q) = (%q, %q), want (%q, %q)", tt.text, service, city, tt.service, tt.city)
		}
	}
}

func TestExtractUsesHistory(t *testing.T) {
	e := NewExtractor(nil, nil)
	service, city := e.Extract("cliente: necesito un cerrajero", "en Loja")
	if service != "cerrajero" || city != "Loja" {
		t.Fatalf("expected history scan, got (%q, %q)", service, city)
	}
}

func TestExtractWithExpansionNoLLM(t *testing.T) {
	e := NewExtractor(nil, nil)
	service, city, terms := e.ExtractWithExpansion(context.Background(), "", "plomero en Quito")
	if service != "plomero" || city != "Quito" {
		t.Fatalf("unexpected static result (%q, %q)", service, city)
	}
	if len(terms) != 1 || terms[0] != "plomero" {
		t.Fatalf("expected [service] without LLM, got %v", terms)
	}
}

func TestExtractWithExpansionFillsService(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"extract_service": "plomero",
		"expand_terms":    `["plomero", "fontanero", "plumber"]`,
		"extract_city":    "null",
	}}
	e := NewExtractor(client, nil)

	service, city, terms := e.ExtractWithExpansion(context.Background(), "", "se me inunda la cocina")
	if service != "plomero" {
		t.Fatalf("expected llm service, got %q", service)
	}
	if city != "" {
		t.Fatalf("expected no city, got %q", city)
	}
	if len(terms) != 3 || terms[1] != "fontanero" {
		t.Fatalf("expected expanded terms, got %v", terms)
	}
}

func TestExtractWithExpansionRejectsNullService(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"extract_service": "null",
	}}
	e := NewExtractor(client, nil)

	service, _, terms := e.ExtractWithExpansion(context.Background(), "", "asdf qwerty")
	if service != "" || terms != nil {
		t.Fatalf("expected nothing for null service, got %q %v", service, terms)
	}
}

func TestExtractWithExpansionBadTermArray(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"expand_terms": "no soy json",
		"extract_city": "null",
	}}
	e := NewExtractor(client, nil)

	service, _, terms := e.ExtractWithExpansion(context.Background(), "", "plomero urgente")
	if service != "plomero" {
		t.Fatalf("expected static service, got %q", service)
	}
	if len(terms) != 1 || terms[0] != "plomero" {
		t.Fatalf("expected [service] fallback on bad JSON, got %v", terms)
	}
}

func TestExtractWithExpansionFencedArray(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"expand_terms": "```json\n[\"plomero\", \"gasfitero\"]\n```",
		"extract_city": "Quito",
	}}
	e := NewExtractor(client, nil)

	service, city, terms := e.ExtractWithExpansion(context.Background(), "", "plomero por favor")
	if service != "plomero" || city != "Quito" {
		t.Fatalf("unexpected result (%q, %q)", service, city)
	}
	if len(terms) != 2 || terms[1] != "gasfitero" {
		t.Fatalf("expected fenced array parsed, got %v", terms)
	}
}

func TestExtractWithExpansionLLMErrorDowngrades(t *testing.T) {
	client := &scriptedLLM{err: errors.New("timeout")}
	e := NewExtractor(client, nil)

	service, city, terms := e.ExtractWithExpansion(context.Background(), "", "electricista en kito")
	if service != "electricista" || city != "Quito" {
		t.Fatalf("expected static result on llm failure, got (%q, %q)", service, city)
	}
	if len(terms) != 1 || terms[0] != "electricista" {
		t.Fatalf("expected [service] on llm failure, got %v", terms)
	}
}

func TestExtractWithExpansionCityMustBeKnown(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"expand_terms": `["pintor"]`,
		"extract_city": "Bogota",
	}}
	e := NewExtractor(client, nil)

	_, city, _ := e.ExtractWithExpansion(context.Background(), "", "pintor para mi casa")
	if city != "" {
		t.Fatalf("expected out-of-set city rejected, got %q", city)
	}
}

func TestWithMaxExpansionTermsClamped(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"expand_terms": `["a","b","c","d","e"]`,
		"extract_city": "null",
	}}
	e := NewExtractor(client, nil, WithMaxExpansionTerms(2))

	_, _, terms := e.ExtractWithExpansion(context.Background(), "", "plomero")
	if len(terms) != 2 {
		t.Fatalf("expected terms truncated to 2, got %v", terms)
	}
}

func TestWithExpansionDisabled(t *testing.T) {
	client := &scriptedLLM{responses: map[string]string{
		"extract_city": "null",
	}}
	e := NewExtractor(client, nil, WithExpansion(false))

	_, _, terms := e.ExtractWithExpansion(context.Background(), "", "plomero")
	if len(terms) != 1 || terms[0] != "plomero" {
		t.Fatalf("expected [service] with expansion disabled, got %v", terms)
	}
	for _, op := range client.calls {
		if op == "expand_terms" {
			t.Fatalf("expansion call made despite being disabled")
		}
	}
}
