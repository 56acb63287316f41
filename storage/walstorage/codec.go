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

package walstorage

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"

	"github.com/uplink-telemetry/uplink/storage"
)

// record is the on-disk form of one sealed batch.
type record struct {
	ID      string   `cbor:"1,keyasint"`
	Created int64    `cbor:"2,keyasint"`
	Events  [][]byte `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("walstorage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("walstorage: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeRecord serializes the record with CBOR and compresses it with snappy.
func encodeRecord(r *record) ([]byte, error) {
	raw, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch %s: %w", r.ID, err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeRecord(data []byte) (*record, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress batch: %w", err)
	}
	r := &record{}
	if err := decMode.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return r, nil
}

func (r *record) batch(size int64) storage.Batch {
	events := make([]storage.Event, len(r.Events))
	for i, data := range r.Events {
		events[i] = storage.Event{Data: data}
	}
	return storage.Batch{
		ID:      r.ID,
		Created: time.Unix(0, r.Created),
		Size:    size,
		Events:  events,
	}
}
