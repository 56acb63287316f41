// Copyright The OpenTelemetry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//       http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport sends upload requests over HTTP.
package transport

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client performs one HTTP call asynchronously and reports the outcome through
// completion, exactly once. The response body is only valid inside completion.
type Client interface {
	Send(req *http.Request, completion func(*http.Response, error))
}

// ClientSettings defines the HTTP client used for uploads.
type ClientSettings struct {
	// Timeout parameter configures `http.Client.Timeout`.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are added to every request.
	Headers map[string]string `mapstructure:"headers"`

	// ProxyURL overrides the proxy taken from the environment.
	ProxyURL string `mapstructure:"proxy_url"`

	DisableKeepAlives bool `mapstructure:"disable_keep_alives"`
}

// DefaultClientSettings returns the default settings for ClientSettings.
func DefaultClientSettings() ClientSettings {
	return ClientSettings{
		Timeout: 30 * time.Second,
	}
}

// ToClient creates an HTTP client.
func (cs *ClientSettings) ToClient() (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cs.ProxyURL != "" {
		proxyURL, err := url.ParseRequestURI(cs.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	transport.DisableKeepAlives = cs.DisableKeepAlives

	clientTransport := (http.RoundTripper)(transport)
	if len(cs.Headers) > 0 {
		clientTransport = &headerRoundTripper{
			transport: clientTransport,
			headers:   cs.Headers,
		}
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(clientTransport),
		Timeout:   cs.Timeout,
	}, nil
}

// Custom RoundTripper that adds headers.
type headerRoundTripper struct {
	transport http.RoundTripper
	headers   map[string]string
}

func (interceptor *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range interceptor.headers {
		req.Header.Set(k, v)
	}
	return interceptor.transport.RoundTrip(req)
}

// HTTPClient implements Client on top of an *http.Client.
type HTTPClient struct {
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a Client from the settings.
func NewHTTPClient(cs ClientSettings) (*HTTPClient, error) {
	client, err := cs.ToClient()
	if err != nil {
		return nil, err
	}
	return &HTTPClient{client: client}, nil
}

// Send implements Client. The call runs on its own goroutine; the body is
// drained and closed after completion returns.
func (c *HTTPClient) Send(req *http.Request, completion func(*http.Response, error)) {
	go func() {
		resp, err := c.client.Do(req)
		completion(resp, err)
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}()
}
