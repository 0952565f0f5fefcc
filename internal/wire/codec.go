// Copyright (c) the qldbdriver-go contributors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire is the value codec boundary: encoding parameters to and
// decoding result values from the wire binary form, injectable by
// callers who need a different wire format.
package wire

import "github.com/amzn/ion-go/ion"

// Codec encodes/decodes domain values to/from the wire binary
// representation. The default implementation is backed by Amazon Ion;
// callers may supply their own for a different wire format.
type Codec interface {
	Marshal(value interface{}) ([]byte, error)
	Unmarshal(data []byte, out interface{}) error
}

type ionCodec struct{}

// NewIonCodec returns the default Codec, backed by amzn/ion-go.
func NewIonCodec() Codec { return ionCodec{} }

func (ionCodec) Marshal(value interface{}) ([]byte, error) {
	return ion.MarshalBinary(value)
}

func (ionCodec) Unmarshal(data []byte, out interface{}) error {
	return ion.Unmarshal(data, out)
}
