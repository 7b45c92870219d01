////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"
)

// Getting a key that was never stored returns an error that Exists reports
// as a missing element.
func TestKV_Get_Missing(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	result, err := kv.Get("missing", 0)
	if err == nil {
		t.Error("Getting a key that didn't exist should have returned an error")
	}
	if result != nil {
		t.Error("Getting a key that didn't exist shouldn't have returned data")
	}
	if kv.Exists(err) {
		t.Errorf("Exists should be false for a missing key: %+v", err)
	}
}

// Tests that data stored with SetData is returned by GetData for the same
// version and is not visible at another version.
func TestKV_SetData_GetData(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	expected := []byte("conversation snapshot")

	require.NoError(t, kv.SetData("entries", 0, expected))

	data, err := kv.GetData("entries", 0)
	require.NoError(t, err)
	if !bytes.Equal(expected, data) {
		t.Errorf("Unexpected data.\nexpected: %q\nreceived: %q", expected, data)
	}

	_, err = kv.GetData("entries", 1)
	require.Error(t, err)
}

// Tests that Delete removes the object.
func TestKV_Delete(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	require.NoError(t, kv.SetData("key", 0, []byte("value")))
	require.NoError(t, kv.Delete("key", 0))

	_, err := kv.Get("key", 0)
	require.Error(t, err)
}

// Tests that prefixed KVs share the backing store but not the namespace.
func TestKV_Prefix(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	a, err := kv.Prefix("a")
	require.NoError(t, err)
	b, err := kv.Prefix("b")
	require.NoError(t, err)

	require.NoError(t, a.SetData("key", 0, []byte("a")))
	_, err = b.Get("key", 0)
	require.Error(t, err)

	nested, err := a.Prefix("b")
	require.NoError(t, err)
	require.NoError(t, nested.SetData("key", 0, []byte("a/b")))
	data, err := a.GetData("key", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), data)

	_, err = kv.Prefix("bad/prefix")
	require.Error(t, err)
}
