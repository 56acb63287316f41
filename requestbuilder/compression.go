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

package requestbuilder

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// Compression selects how request bodies are encoded.
type Compression string

const (
	CompressionDeflate Compression = "deflate"
	CompressionNone    Compression = "none"
)

// UnmarshalText accepts deflate, none or an empty value meaning deflate.
func (c *Compression) UnmarshalText(in []byte) error {
	switch typ := Compression(in); typ {
	case "":
		*c = CompressionDeflate
		return nil
	case CompressionDeflate, CompressionNone:
		*c = typ
		return nil
	default:
		return fmt.Errorf("unsupported compression type %q", typ)
	}
}

var deflatePool = sync.Pool{New: func() any { return zlib.NewWriter(nil) }}

// deflate writes the zlib encoding of data into buf.
func deflate(buf *bytes.Buffer, data []byte) error {
	writer := deflatePool.Get().(*zlib.Writer)
	defer deflatePool.Put(writer)
	writer.Reset(buf)

	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}
