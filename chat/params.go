////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Params configures a conversation Controller.
type Params struct {
	// Number of live messages at which the controller moves the live store
	// into the archive
	RetentionThreshold int

	// Number of archived messages fetched by each LoadOlder
	PageSize int

	// Maximum time any single store operation may take before it is
	// abandoned and its guard flag reset
	OperationTimeout time.Duration
}

// paramsDisk will be the marshal-able and umarshal-able object.
type paramsDisk struct {
	RetentionThreshold int
	PageSize           int
	OperationTimeout   time.Duration
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		RetentionThreshold: 20,
		PageSize:           20,
		OperationTimeout:   15 * time.Second,
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
	if err := p.validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// validate returns ErrInvalidParams if any field is not positive.
func (p Params) validate() error {
	switch {
	case p.RetentionThreshold <= 0:
		return errors.WithMessagef(ErrInvalidParams,
			"RetentionThreshold must be positive, got %d", p.RetentionThreshold)
	case p.PageSize <= 0:
		return errors.WithMessagef(ErrInvalidParams,
			"PageSize must be positive, got %d", p.PageSize)
	case p.OperationTimeout <= 0:
		return errors.WithMessagef(ErrInvalidParams,
			"OperationTimeout must be positive, got %s", p.OperationTimeout)
	}
	return nil
}

// MarshalJSON adheres to the json.Marshaler interface.
func (p Params) MarshalJSON() ([]byte, error) {
	pDisk := paramsDisk{
		RetentionThreshold: p.RetentionThreshold,
		PageSize:           p.PageSize,
		OperationTimeout:   p.OperationTimeout,
	}
	return json.Marshal(&pDisk)
}

// UnmarshalJSON adheres to the json.Unmarshaler interface.
// Fields missing from data keep their current value.
func (p *Params) UnmarshalJSON(data []byte) error {
	pDisk := paramsDisk{
		RetentionThreshold: p.RetentionThreshold,
		PageSize:           p.PageSize,
		OperationTimeout:   p.OperationTimeout,
	}
	err := json.Unmarshal(data, &pDisk)
	if err != nil {
		return err
	}

	*p = Params{
		RetentionThreshold: pDisk.RetentionThreshold,
		PageSize:           pDisk.PageSize,
		OperationTimeout:   pDisk.OperationTimeout,
	}
	return nil
}
