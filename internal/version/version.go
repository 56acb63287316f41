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

// Package version holds the build information linked into uplinkd.
package version

import (
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"
)

// Version is replaced at link time with -X.
var Version = "latest"

// GitHash is replaced at link time with -X.
var GitHash = "<NOT PROPERLY GENERATED>"

// BuildType is "dev" for local builds and "release" for published ones.
var BuildType = "dev"

// Info is the ordered list of build and runtime properties.
type Info [][2]string

// Current returns the properties of the running binary.
func Current() Info {
	return Info{
		{"Version", Version},
		{"GitHash", GitHash},
		{"BuildType", BuildType},
		{"Goversion", runtime.Version()},
		{"OS", runtime.GOOS},
		{"Architecture", runtime.GOARCH},
	}
}

// WriteTo prints one aligned property per line.
func (i Info) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 0, 1, ' ', 0)
	for _, prop := range i {
		fmt.Fprintf(tw, "%s\t%s\n", prop[0], prop[1])
	}
	err := tw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
