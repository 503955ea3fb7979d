package openai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
)

// ErrNoChoices is returned when a completion comes back empty.
var ErrNoChoices = errors.New("openai llm: no completion choices returned")

// LLM implements llm.LLM with chat completions.
type LLM struct {
	client *openai.Client
	model  string
	label  string
	retry  ai.RetryConfig
}

// NewLLM creates a chat completion provider.
func NewLLM(cfg Config) (*LLM, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLM{client: client, model: model, label: cfg.label("LLM"), retry: ai.DefaultRetryConfig}, nil
}

func (o *LLM) Label() string { return o.label }

// Chat sends the whole conversation and returns the first choice.
func (o *LLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			Name:    msg.Name,
		}
	}

	var tools []openai.Tool
	for _, fn := range req.Functions {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}

	completion := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Tools:       tools,
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := ai.Retry(ctx, o.retry, func(ctx context.Context) error {
		var err error
		resp, err = o.client.CreateChatCompletion(ctx, completion)
		return classify(err, "openai llm: chat completion")
	})
	if err != nil {
		return llm.ChatResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	out := llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
	}
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		out.FunctionCall = &llm.FunctionCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}

	slog.Debug("Chat completion",
		slog.String("model", o.model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func (o *LLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsFunctions:  true,
		SupportsStreaming:  false,
		MaxTokens:          128000,
		SupportedModels:    []string{o.model},
		SupportsSystemRole: true,
	}
}
