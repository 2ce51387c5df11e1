package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/spendwise/internal/logger"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for categorization.
const DefaultModelName = "gemini-2.5-flash"

// ResponseArchiver stores raw oracle output for audit. Archival failures are
// logged and never fail the batch.
type ResponseArchiver interface {
	ArchiveOracleResponse(ctx context.Context, raw []byte) (string, error)
}

// GeminiOracle implements Oracle against the Gemini API.
type GeminiOracle struct {
	model   string
	archive ResponseArchiver
}

// NewGeminiOracle creates an oracle using the given model name, or
// DefaultModelName when empty. archive may be nil.
func NewGeminiOracle(model string, archive ResponseArchiver) *GeminiOracle {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiOracle{model: model, archive: archive}
}

// CategorizeBatch sends one chunk of transactions to Gemini and decodes the
// strict-JSON verdict array. Transport failures wrap ErrOracleUnavailable;
// undecodable output returns *MalformedResponseError.
func (o *GeminiOracle) CategorizeBatch(ctx context.Context, txs []TransactionInput, user UserContext) ([]Result, error) {
	log := logger.FromContext(ctx)

	payload, err := json.Marshal(txs)
	if err != nil {
		return nil, fmt.Errorf("CategorizeBatch: marshal transactions: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("CategorizeBatch: create genai client: %w: %v", ErrOracleUnavailable, err)
	}

	prompt := buildCategorizationPrompt(user)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{Text: "Transactions:\n" + string(payload)},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, o.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("CategorizeBatch: generate content: %w: %v", ErrOracleUnavailable, err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, &MalformedResponseError{Reason: "empty response from model"}
	}

	if o.archive != nil {
		if uri, archiveErr := o.archive.ArchiveOracleResponse(ctx, []byte(rawText)); archiveErr != nil {
			log.Warn().Err(archiveErr).Msg("Failed to archive oracle response")
		} else if uri != "" {
			log.Debug().Str("uri", uri).Msg("Archived oracle response")
		}
	}

	clean := cleanModelJSON(rawText)

	var results []Result
	if err := json.Unmarshal([]byte(clean), &results); err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("unmarshal JSON: %v", err)}
	}

	return results, nil
}

// cleanModelJSON strips markdown fences and surrounding junk when the model
// ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only from the first '[' to the last ']' if junk remains.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

var _ Oracle = (*GeminiOracle)(nil)
