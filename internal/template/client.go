// Package template fetches template descriptors from the template
// service and renders them against job variables.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const fetchTimeout = 10 * time.Second

// Descriptor is the template fetched from the template service, never
// persisted by the worker.
type Descriptor struct {
	Code             string   `json:"code"`
	SubjectOrTitle   string   `json:"-"`
	Body             string   `json:"-"`
	DeclaredVariables []string `json:"variables"`
	Language         string   `json:"language"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    *templateData   `json:"data"`
	Error   string          `json:"error"`
}

type templateData struct {
	Code      string   `json:"code"`
	Subject   string   `json:"subject"`
	HTMLBody  string   `json:"html_body"`
	TextBody  string   `json:"text_body"`
	Variables []string `json:"variables"`
	Language  string   `json:"language"`
}

// FetchError is a transient, breaker-countable failure fetching a
// template: non-2xx, success=false, or a missing data envelope.
type FetchError struct {
	TemplateCode string
	Reason       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("template fetch failed for %q: %s", e.TemplateCode, e.Reason)
}

// Client fetches template descriptors over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a template service client pointed at baseURL
// (e.g. "https://templates.internal").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch retrieves a template descriptor by code. Preference order for
// the body is html_body when non-empty, else text_body.
func (c *Client) Fetch(ctx context.Context, templateCode string) (Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/templates/%s", c.baseURL, templateCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Descriptor{}, &FetchError{TemplateCode: templateCode, Reason: err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Descriptor{}, &FetchError{TemplateCode: templateCode, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Descriptor{}, &FetchError{TemplateCode: templateCode, Reason: fmt.Sprintf("http status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Descriptor{}, &FetchError{TemplateCode: templateCode, Reason: "malformed response: " + err.Error()}
	}
	if !env.Success {
		reason := env.Error
		if reason == "" {
			reason = "unknown error"
		}
		return Descriptor{}, &FetchError{TemplateCode: templateCode, Reason: reason}
	}
	if env.Data == nil {
		return Descriptor{}, &FetchError{TemplateCode: templateCode, Reason: "template not found"}
	}

	body := env.Data.HTMLBody
	if body == "" {
		body = env.Data.TextBody
	}
	code := env.Data.Code
	if code == "" {
		code = templateCode
	}
	language := env.Data.Language
	if language == "" {
		language = "en"
	}

	return Descriptor{
		Code:              code,
		SubjectOrTitle:    env.Data.Subject,
		Body:              body,
		DeclaredVariables: env.Data.Variables,
		Language:          language,
	}, nil
}
