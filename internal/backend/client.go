/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend is the desktop client's side of the submission boundary:
// it posts a canvas snapshot to the recognition server and decodes the result.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"mathsketch/internal/domain"
	applog "mathsketch/internal/log"
)

// HeaderRequestID correlates client and server log lines.
const HeaderRequestID = "X-Request-ID"

// PNGDataURIPrefix is prepended to base64 PNG bytes to form image_data.
const PNGDataURIPrefix = "data:image/png;base64,"

// ErrEmptyImage is returned when Convert is called without image bytes.
var ErrEmptyImage = errors.New("no image data")

// Client talks to the recognition server.
type Client struct {
	BaseURL string
	Token   string // optional bearer token
	client  *http.Client
}

// Options tune the underlying HTTP client.
type Options struct {
	Timeout     time.Duration
	TLSInsecure bool
}

// NewClient creates a client. baseURL may include a trailing slash; it is normalized.
func NewClient(baseURL, token string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: opts.Timeout}
	if opts.TLSInsecure {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		hc.Transport = tr
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, client: hc}
}

// ConvertRequest is the body of POST /convert.
type ConvertRequest struct {
	ImageData string `json:"image_data"`
	Macros    string `json:"macros"`
	Prompt    string `json:"prompt"`
}

// NewConvertRequest encodes png as a data URI.
func NewConvertRequest(png []byte, macros, prompt string) ConvertRequest {
	return ConvertRequest{
		ImageData: PNGDataURIPrefix + base64.StdEncoding.EncodeToString(png),
		Macros:    macros,
		Prompt:    prompt,
	}
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Convert submits one snapshot and returns the recognized expression.
// No retry is attempted; the caller decides what to tell the user.
func (c *Client) Convert(ctx context.Context, png []byte, macros, prompt string) (domain.Recognition, error) {
	var out domain.Recognition
	if len(png) == 0 {
		return out, ErrEmptyImage
	}
	reqID := uuid.NewString()
	ctx = applog.WithRequestID(ctx, reqID)
	l := applog.WithOperation(applog.WithComponent("backend"), "convert")

	start := time.Now()
	err := c.doJSON(ctx, http.MethodPost, "/convert", reqID, NewConvertRequest(png, macros, prompt), &out)
	if err != nil {
		l.WarnContext(ctx, "convert failed", slog.Any("err", err), slog.Duration("took", time.Since(start)))
		return domain.Recognition{}, err
	}
	l.InfoContext(ctx, "convert ok", slog.Int("latex_len", len(out.Latex)), slog.Duration("took", time.Since(start)))
	return out, nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", uuid.NewString(), nil, &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("health: unexpected status %q", body.Status)
	}
	return nil
}

// PreviewURL is the server page that typesets latex.
func (c *Client) PreviewURL(latex string) string {
	return c.BaseURL + "/preview?" + url.Values{"latex": {latex}}.Encode()
}

func (c *Client) doJSON(ctx context.Context, method, path, reqID string, in, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, reqID)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("%s %s: %w", method, u.Path, apiErr)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", u.Path, err)
	}
	return nil
}
