// llmtest exercises the configured completion providers from the command
// line: handy when rotating API keys or trying a new model id.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/serviya/platform/internal/llm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := llm.Request{
		Op:     "llmtest",
		System: "Eres un asistente que conecta clientes con proveedores de servicios en Ecuador. Responde breve, en español.",
		Messages: []llm.Message{
			{Role: llm.ChatRoleUser, Content: "Necesito un plomero en Quito, ¿me puedes ayudar?"},
			{Role: llm.ChatRoleAssistant, Content: "¡Claro! Estoy buscando plomeros disponibles en Quito. ¿El trabajo es urgente?"},
			{Role: llm.ChatRoleUser, Content: "Sí, tengo una fuga en la cocina."},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}

	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	fmt.Println("LLM Provider Test")
	fmt.Println(rule)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		fmt.Println("\n[1] Testing OpenAI...")
		client, err := llm.NewOpenAIClient(key, os.Getenv("OPENAI_BASE_URL"), envOr("OPENAI_MODEL", "gpt-4o-mini"))
		if err != nil {
			fmt.Printf("    failed to create OpenAI client: %v\n", err)
		} else {
			run(ctx, client, req)
		}
	} else {
		fmt.Println("\n[1] Skipping OpenAI test (OPENAI_API_KEY not set)")
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		fmt.Println("\n[2] Testing Gemini...")
		client, err := llm.NewGeminiClient(ctx, key, envOr("GEMINI_MODEL_ID", "gemini-1.5-flash"))
		if err != nil {
			fmt.Printf("    failed to create Gemini client: %v\n", err)
		} else {
			run(ctx, client, req)
		}
	} else {
		fmt.Println("\n[2] Skipping Gemini test (GEMINI_API_KEY not set)")
	}

	fmt.Println("\n" + rule)
	fmt.Println("If both providers responded, the fallback chain is healthy:")
	fmt.Println("the broker uses OpenAI first and retries the turn on Gemini.")
}

func run(ctx context.Context, client llm.Client, req llm.Request) {
	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("    error: %v\n", err)
		return
	}
	fmt.Printf("    response (%v, model=%s):\n", elapsed.Round(time.Millisecond), resp.Model)
	fmt.Printf("    %s\n", resp.Text)
	fmt.Printf("    tokens: in=%d out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
