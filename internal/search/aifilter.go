package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/serviya/platform/internal/llm"
	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

// AIFilter drops providers that cannot actually serve the stated need.
// Every failure returns the full input list: at this stage a false positive
// is cheap (the availability probe weeds out unwilling providers), a false
// negative loses a real match.
type AIFilter struct {
	llm    llm.Client
	logger *logging.Logger
}

func NewAIFilter(client llm.Client, logger *logging.Logger) *AIFilter {
	if logger == nil {
		logger = logging.Default()
	}
	return &AIFilter{llm: client, logger: logger}
}

// Filter asks the model for one boolean per provider and keeps the trues.
func (f *AIFilter) Filter(ctx context.Context, need string, providers []storage.Provider) []storage.Provider {
	if f == nil || f.llm == nil || len(providers) == 0 {
		return providers
	}

	resp, err := f.llm.Complete(ctx, llm.Request{
		Op:          "validate_providers",
		System:      "Evalúas si proveedores pueden atender una necesidad. Respondes únicamente con un arreglo JSON de booleanos, uno por proveedor, en el mismo orden.",
		Messages:    []llm.Message{{Role: llm.ChatRoleUser, Content: buildFilterPrompt(need, providers)}},
		MaxTokens:   64,
		Temperature: 0,
	})
	if err != nil {
		f.logger.Debug("ai filter failed, keeping all providers", "error", err)
		return providers
	}

	verdicts, err := parseBoolArray(resp.Text)
	if err != nil {
		f.logger.Debug("ai filter reply unparseable, keeping all providers", "raw", resp.Text)
		return providers
	}

	// Conservative zip: a length mismatch only judges the overlap.
	n := len(verdicts)
	if len(providers) < n {
		n = len(providers)
	}
	kept := make([]storage.Provider, 0, n)
	for i := 0; i < n; i++ {
		if verdicts[i] {
			kept = append(kept, providers[i])
		}
	}
	return kept
}

func buildFilterPrompt(need string, providers []storage.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Necesidad del cliente: %s\n\nProveedores:\n", need)
	for i, p := range providers {
		fmt.Fprintf(&b, "%d. %s", i+1, p.DisplayName())
		if p.Profession != "" {
			fmt.Fprintf(&b, " — %s", p.Profession)
		}
		if len(p.Services) > 0 {
			fmt.Fprintf(&b, " (servicios: %s)", strings.Join(p.Services, ", "))
		}
		if p.Experience != "" {
			fmt.Fprintf(&b, ", experiencia: %s", p.Experience)
		}
		if p.Rating > 0 {
			fmt.Fprintf(&b, ", calificación %.1f", p.Rating)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n¿Puede cada proveedor atender la necesidad? Responde solo el arreglo JSON de %d booleanos.", len(providers))
	return b.String()
}

func parseBoolArray(raw string) ([]bool, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("search: no JSON array in %q", raw)
	}
	var verdicts []bool
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdicts); err != nil {
		return nil, fmt.Errorf("search: decode verdict array: %w", err)
	}
	return verdicts, nil
}
