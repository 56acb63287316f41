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

package devicecontext

import "sync"

// Provider returns the current context snapshot. Read must be safe to call
// from any goroutine.
type Provider interface {
	Read() Context
}

// StaticProvider returns a snapshot that only changes through Update.
type StaticProvider struct {
	mu  sync.RWMutex
	ctx Context
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider returns a provider for the given snapshot.
func NewStaticProvider(ctx Context) *StaticProvider {
	return &StaticProvider{ctx: ctx}
}

// Read implements Provider.
func (p *StaticProvider) Read() Context {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ctx
}

// Update mutates the snapshot.
func (p *StaticProvider) Update(fn func(*Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.ctx)
}
