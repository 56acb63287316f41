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

// Package requestbuilder turns stored events into intake HTTP requests.
package requestbuilder

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/uplink-telemetry/uplink/devicecontext"
	"github.com/uplink-telemetry/uplink/storage"
	"github.com/uplink-telemetry/uplink/upload"
)

const (
	contentTypeJSON      = "application/json"
	contentTypeTextPlain = "text/plain;charset=UTF-8"

	headerAPIKey        = "DD-API-KEY"
	headerOrigin        = "DD-EVP-ORIGIN"
	headerOriginVersion = "DD-EVP-ORIGIN-VERSION"
)

// Track describes how events of one feature are framed and where they go.
type Track struct {
	Name        string
	Path        string
	ContentType string
	Prefix      string
	Suffix      string
	Separator   string
}

var tracks = map[string]Track{
	"logs": {
		Name:        "logs",
		Path:        "/api/v2/logs",
		ContentType: contentTypeJSON,
		Prefix:      "[",
		Suffix:      "]",
		Separator:   ",",
	},
	"spans": {
		Name:        "spans",
		Path:        "/api/v2/spans",
		ContentType: contentTypeTextPlain,
		Separator:   "\n",
	},
	"rum": {
		Name:        "rum",
		Path:        "/api/v2/rum",
		ContentType: contentTypeTextPlain,
		Separator:   "\n",
	},
}

// TrackFor returns the track for the named feature.
func TrackFor(feature string) (Track, bool) {
	t, ok := tracks[feature]
	return t, ok
}

// Features lists the features that have a track.
func Features() []string {
	return []string{"logs", "spans", "rum"}
}

var (
	// ErrNoEvents is returned when asked to build a request without events.
	ErrNoEvents = errors.New("no events to upload")
	// ErrMissingClientToken is returned when the context has no client token.
	ErrMissingClientToken = errors.New("missing client token")
)

// Settings configures a Builder.
type Settings struct {
	Track Track
	// Endpoint replaces the site intake URL when set.
	Endpoint    string
	Compression Compression
	// Headers are added to every request.
	Headers map[string]string
}

// Builder implements upload.RequestBuilder for one track.
type Builder struct {
	track       Track
	endpoint    string
	compression Compression
	headers     map[string]string
}

var _ upload.RequestBuilder = (*Builder)(nil)

// New creates a Builder.
func New(set Settings) (*Builder, error) {
	if set.Track.Path == "" && set.Endpoint == "" {
		return nil, fmt.Errorf("track %q has no intake path", set.Track.Name)
	}
	if set.Endpoint != "" {
		if _, err := url.Parse(set.Endpoint); err != nil {
			return nil, fmt.Errorf("invalid intake endpoint: %w", err)
		}
	}
	compression := set.Compression
	if compression == "" {
		compression = CompressionDeflate
	}
	return &Builder{
		track:       set.Track,
		endpoint:    set.Endpoint,
		compression: compression,
		headers:     set.Headers,
	}, nil
}

// Request implements upload.RequestBuilder.
func (b *Builder) Request(events []storage.Event, dctx devicecontext.Context, exec upload.ExecutionContext) (*http.Request, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	if dctx.ClientToken == "" {
		return nil, ErrMissingClientToken
	}

	target, err := b.url(dctx)
	if err != nil {
		return nil, err
	}
	target += "?" + query(dctx, exec)

	body, encoded, err := b.body(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", b.track.ContentType)
	if encoded {
		req.Header.Set("Content-Encoding", string(CompressionDeflate))
	}
	req.Header.Set("User-Agent", userAgent(dctx.Application))
	req.Header.Set(headerAPIKey, dctx.ClientToken)
	req.Header.Set(headerOrigin, dctx.Application.Source)
	req.Header.Set(headerOriginVersion, dctx.Application.SDKVersion)
	req.Header.Set(upload.RequestIDHeader, uuid.NewString())
	return req, nil
}

func (b *Builder) url(dctx devicecontext.Context) (string, error) {
	if b.endpoint != "" {
		return b.endpoint, nil
	}
	return IntakeURL(Site(dctx.Site), b.track.Path)
}

// body frames the events and deflates the result when that makes it smaller.
func (b *Builder) body(events []storage.Event) ([]byte, bool, error) {
	var raw bytes.Buffer
	raw.WriteString(b.track.Prefix)
	for i, e := range events {
		if i > 0 {
			raw.WriteString(b.track.Separator)
		}
		raw.Write(e.Data)
	}
	raw.WriteString(b.track.Suffix)

	if b.compression != CompressionDeflate {
		return raw.Bytes(), false, nil
	}
	var compressed bytes.Buffer
	if err := deflate(&compressed, raw.Bytes()); err != nil {
		return nil, false, err
	}
	if compressed.Len() >= raw.Len() {
		return raw.Bytes(), false, nil
	}
	return compressed.Bytes(), true, nil
}

func query(dctx devicecontext.Context, exec upload.ExecutionContext) string {
	app := dctx.Application
	tags := []string{
		"service:" + app.Service,
		"version:" + app.Version,
		"sdk_version:" + app.SDKVersion,
		"env:" + app.Env,
		"retry_count:" + strconv.FormatUint(uint64(exec.Attempt)+1, 10),
	}
	if exec.PreviousResponseCode != 0 {
		tags = append(tags, "last_failure_status:"+strconv.Itoa(exec.PreviousResponseCode))
	}
	if app.Variant != "" {
		tags = append(tags, "variant:"+app.Variant)
	}
	return "ddsource=" + escape(app.Source) + "&ddtags=" + escape(strings.Join(tags, ","))
}

// escape percent-encodes a query value, keeping the tag separators readable.
func escape(s string) string {
	s = url.QueryEscape(s)
	s = strings.ReplaceAll(s, "+", "%20")
	s = strings.ReplaceAll(s, "%3A", ":")
	return strings.ReplaceAll(s, "%2C", ",")
}

func userAgent(app devicecontext.Application) string {
	return fmt.Sprintf("%s/%s uplink/%s (%s; %s)", app.Service, app.Version, app.SDKVersion, runtime.GOOS, runtime.GOARCH)
}
