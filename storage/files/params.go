////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package files

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params configures the file store.
type Params struct {
	// Base URL that view links are built on
	BaseURL string

	// Maximum number of uploads started per second
	UploadsPerSecond int

	// Largest accepted upload in bytes; zero disables the limit
	MaxFileSize int

	// Default width of generated previews in pixels
	PreviewWidth uint
}

// paramsDisk will be the marshal-able and umarshal-able object.
type paramsDisk struct {
	BaseURL          string
	UploadsPerSecond int
	MaxFileSize      int
	PreviewWidth     uint
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		BaseURL:          "nesmo://local",
		UploadsPerSecond: 5,
		MaxFileSize:      25 << 20,
		PreviewWidth:     256,
	}
}

// GetParameters returns the default Params, or override with given
// parameters, if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		err := json.Unmarshal([]byte(params), &p)
		if err != nil {
			return Params{}, err
		}
	}
	return p, nil
}

// MarshalJSON adheres to the json.Marshaler interface.
func (p Params) MarshalJSON() ([]byte, error) {
	pDisk := paramsDisk{
		BaseURL:          p.BaseURL,
		UploadsPerSecond: p.UploadsPerSecond,
		MaxFileSize:      p.MaxFileSize,
		PreviewWidth:     p.PreviewWidth,
	}
	return json.Marshal(&pDisk)
}

// UnmarshalJSON adheres to the json.Unmarshaler interface.
func (p *Params) UnmarshalJSON(data []byte) error {
	pDisk := paramsDisk{}
	err := json.Unmarshal(data, &pDisk)
	if err != nil {
		return err
	}

	*p = Params{
		BaseURL:          pDisk.BaseURL,
		UploadsPerSecond: pDisk.UploadsPerSecond,
		MaxFileSize:      pDisk.MaxFileSize,
		PreviewWidth:     pDisk.PreviewWidth,
	}
	return nil
}

func (p Params) viewURL(id string) string {
	return fmt.Sprintf(viewURLFmt, strings.TrimSuffix(p.BaseURL, "/"), id)
}
