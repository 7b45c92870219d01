////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/xx_network/primitives/netTime"
)

// PrefixSeparator separates nested prefixes in a full key.
const PrefixSeparator = "/"

// Error messages.
const (
	invalidPrefixErr = "prefix %q may not contain the separator %q"
	getObjectErr     = "failed to get %q"
)

type root struct {
	data ekv.KeyValue
}

// KV stores versioned data in a prefixed namespace of an ekv.KeyValue.
type KV struct {
	r      *root
	prefix string
}

// NewKV creates a versioned key/value store backed by something implementing
// ekv.KeyValue.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{r: &root{data: data}}
}

// Get gets the object stored at the key with the given version. Use Exists on
// the returned error to distinguish a missing key from a storage failure.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("[KV] get %p with key %v", v.r.data, key)

	result := Object{}
	if err := v.r.data.Get(key, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetData is a shortcut for Get that returns only the stored bytes.
func (v *KV) GetData(key string, version uint64) ([]byte, error) {
	obj, err := v.Get(key, version)
	if err != nil {
		return nil, errors.WithMessagef(err, getObjectErr, key)
	}
	return obj.Data, nil
}

// Delete removes a given key from the data store.
func (v *KV) Delete(key string, version uint64) error {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("[KV] delete %p with key %v", v.r.data, key)
	return v.r.data.Delete(key)
}

// Set upserts new data into the storage. The Object carries the version.
func (v *KV) Set(key string, object *Object) error {
	key = v.makeKey(key, object.Version)
	jww.TRACE.Printf("[KV] set %p with key %v", v.r.data, key)
	return v.r.data.Set(key, object)
}

// SetData wraps data in an Object of the given version stamped with the
// current time and stores it.
func (v *KV) SetData(key string, version uint64, data []byte) error {
	return v.Set(key, &Object{
		Version:   version,
		Timestamp: netTime.Now(),
		Data:      data,
	})
}

// Prefix returns a new KV with the new prefix appended. Prefixes containing
// the separator are rejected, otherwise two namespaces could overlap.
func (v *KV) Prefix(prefix string) (*KV, error) {
	if strings.Contains(prefix, PrefixSeparator) {
		return nil, errors.Errorf(invalidPrefixErr, prefix, PrefixSeparator)
	}
	return &KV{
		r:      v.r,
		prefix: v.prefix + prefix + PrefixSeparator,
	}, nil
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}

// Exists returns false if the error indicates the element doesn't exist.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}
