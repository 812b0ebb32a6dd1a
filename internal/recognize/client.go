/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package recognize asks a vision-capable chat model to transcribe a
// hand-drawn expression into LaTeX.
package recognize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	applog "mathsketch/internal/log"
)

const instruction = "This is a hand-drawn mathematical expression. " +
	"Please extract only the mathematical expression from the image and return it as raw LaTeX code, without any explanations or markdown formatting such as ```latex. " +
	"Do not include any explanation. If there is noise or unrecognizable parts, omit them. " +
	"Use standard LaTeX formatting. Assume the image contains only one expression. " +
	"If any LaTeX macro definitions are provided separately, you may assume they are pre-defined and can be used as-is in the expression. Here are the defined macros: "

// Instruction builds the text part of the request: the fixed instruction,
// the macro list, then the user's extra prompt.
func Instruction(macros, prompt string) string {
	return instruction + macros + prompt
}

var ErrEmptyResponse = errors.New("model returned no choices")

// Options configure a Client. Zero values fall back to OpenAI defaults.
type Options struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	http      *http.Client
	log       *slog.Logger
}

// New builds a client, filling unset options with defaults.
func New(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4o"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(o.BaseURL, "/"),
		apiKey:    o.APIKey,
		model:     o.Model,
		maxTokens: o.MaxTokens,
		http:      &http.Client{Timeout: o.Timeout},
		log:       applog.WithComponent("recognize"),
	}
}

// Model is the model name sent with each request.
func (c *Client) Model() string { return c.model }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// APIError is an error payload returned by the chat API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("recognizer API error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("recognizer API error %d: %s", e.Status, e.Message)
}

// Recognize sends png with the instruction text and returns the cleaned LaTeX answer.
func (c *Client) Recognize(ctx context.Context, png []byte, macros, prompt string) (string, error) {
	body := chatRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: Instruction(macros, prompt)},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}},
			},
		}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognizer request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read recognizer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, raw)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode recognizer response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	latex := CleanLatex(out.Choices[0].Message.Content)
	c.log.DebugContext(ctx, "recognized",
		slog.String("model", c.model), slog.Int("chars", len(latex)), slog.Duration("took", time.Since(start)))
	return latex, nil
}

func parseAPIError(status int, raw []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return &APIError{Status: status, Type: e.Error.Type, Message: e.Error.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
}

// CleanLatex trims whitespace and removes a surrounding markdown code fence
// (``` or ```latex) that models sometimes add despite being told not to.
func CleanLatex(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || isFenceLang(first) {
			s = s[i+1:]
		}
	}
	return strings.TrimSpace(s)
}

func isFenceLang(s string) bool {
	switch strings.ToLower(s) {
	case "latex", "tex", "math":
		return true
	}
	return false
}
