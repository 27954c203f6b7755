package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"bloodlink/pkg/domain"
)

// Composer phrases the message sent to a donor.
type Composer interface {
	Compose(ctx context.Context, donorName, requesterName string) (string, error)
}

// FallbackMessage is used whenever the composer fails or returns nothing.
func FallbackMessage(donorName, requesterName string) string {
	return fmt.Sprintf("Hi %s, your blood type is urgently needed at %s. Please consider donating.", donorName, requesterName)
}

// DefaultTemplate renders the fallback wording.
const DefaultTemplate = "Hi {{.Donor}}, your blood type is urgently needed at {{.Requester}}. Please consider donating."

// TemplateComposer renders a text/template with .Donor and .Requester.
type TemplateComposer struct {
	tmpl *template.Template
}

// NewTemplateComposer parses text; an empty text selects DefaultTemplate.
func NewTemplateComposer(text string) (*TemplateComposer, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("donor-message").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse composer template: %w", err)
	}
	return &TemplateComposer{tmpl: tmpl}, nil
}

// Compose implements Composer.
func (c *TemplateComposer) Compose(_ context.Context, donorName, requesterName string) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, struct{ Donor, Requester string }{donorName, requesterName}); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrComposerUnavailable, err)
	}
	return buf.String(), nil
}

// HTTPComposer asks a text-generation endpoint to phrase the message.
// It POSTs {"prompt": ...} and reads {"text": ...}.
type HTTPComposer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPComposer targets endpoint; a nil client uses http.DefaultClient.
func NewHTTPComposer(endpoint, apiKey string, client *http.Client) *HTTPComposer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPComposer{endpoint: endpoint, apiKey: apiKey, client: client}
}

type composeRequest struct {
	Prompt string `json:"prompt"`
}

type composeResponse struct {
	Text string `json:"text"`
}

// Prompt returns the instruction sent to the generation endpoint.
func Prompt(donorName, requesterName string) string {
	return fmt.Sprintf("Create a short, friendly, and encouraging notification message (under 25 words) for a blood donor named %s. The request is from %s. Emphasize that their help is urgently needed.", donorName, requesterName)
}

// Compose implements Composer. Transport errors, non-2xx replies and empty
// text all wrap domain.ErrComposerUnavailable.
func (c *HTTPComposer) Compose(ctx context.Context, donorName, requesterName string) (string, error) {
	body, err := json.Marshal(composeRequest{Prompt: Prompt(donorName, requesterName)})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrComposerUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrComposerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrComposerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", domain.ErrComposerUnavailable, resp.StatusCode)
	}
	var out composeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %w", domain.ErrComposerUnavailable, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", domain.ErrComposerUnavailable)
	}
	return text, nil
}
