////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// Object is the envelope KV writes to the backing store around each value.
type Object struct {
	// Layout version of Data, also part of the storage key
	Version uint64

	// Time of the write
	Timestamp time.Time

	Data []byte
}

// Marshal encodes the Object for an ekv.KeyValue. It adheres to
// ekv.Marshaler.
func (o *Object) Marshal() []byte {
	d, err := json.Marshal(o)
	if err != nil {
		jww.FATAL.Panicf("[KV] Failed to marshal object of version %d: %+v",
			o.Version, err)
	}
	return d
}

// Unmarshal decodes an Object written by Marshal. It adheres to
// ekv.Unmarshaler.
func (o *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, o)
}
