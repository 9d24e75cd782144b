// Package anthropic wraps the official anthropic-sdk-go behind the small
// surface the import pipeline needs: single-message completions over text
// or a base64 PDF document. Upstream 429/402 responses are mapped to the
// resilience error taxonomy so callers can halt multi-chunk work.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/internal/resilience"
)

// Client defines the Anthropic operations used by the pipeline.
type Client interface {
	// CreateMessage sends a text completion request.
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	// CreateDocumentMessage sends a prompt together with a PDF document.
	CreateDocumentMessage(ctx context.Context, req DocumentRequest) (*MessageResponse, error)
}

// MessageRequest is the request type for CreateMessage.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	User        string
	Temperature *float64
}

// DocumentRequest is the request type for CreateDocumentMessage.
type DocumentRequest struct {
	Model     string
	MaxTokens int64
	Prompt    string
	PDF       []byte
}

// MessageResponse is the response type for both call shapes.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// LogUsage logs token usage with structured zap fields.
func (u TokenUsage) LogUsage(model, phase string) {
	zap.L().Info("anthropic usage",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0), // retry policy belongs to the caller
		),
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.User)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyErr(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

func (c *sdkClient) CreateDocumentMessage(ctx context.Context, req DocumentRequest) (*MessageResponse, error) {
	encoded := base64.StdEncoding.EncodeToString(req.PDF)

	docBlock := sdk.ContentBlockParamUnion{
		OfDocument: &sdk.DocumentBlockParam{
			Source: sdk.DocumentBlockParamSourceUnion{
				OfBase64: &sdk.Base64PDFSourceParam{Data: encoded},
			},
		},
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(docBlock, sdk.NewTextBlock(req.Prompt)),
		},
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyErr(err, "anthropic: create document message")
	}
	return fromSDKMessage(msg), nil
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			resp.Text += block.Text
		}
	}
	return resp
}

// classifyErr maps SDK errors onto the resilience taxonomy. 429 and 402
// become their typed errors; 5xx becomes a TransientError; everything
// else is wrapped as-is.
func classifyErr(err error, msg string) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return eris.Wrap(err, msg)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return &resilience.RateLimitError{
			Err:        eris.Wrap(err, msg),
			RetryAfter: retryAfter(apiErr.Response),
		}
	case http.StatusPaymentRequired:
		return &resilience.QuotaError{Err: eris.Wrap(err, msg)}
	}

	if apiErr.StatusCode >= 500 {
		return resilience.NewTransientError(eris.Wrap(err, msg), apiErr.StatusCode)
	}
	return eris.Wrap(err, msg)
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
