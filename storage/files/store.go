////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package files stores message attachments and serves views, previews and
// downloads of them.
package files

import (
	"bytes"
	"encoding/json"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"
	"go.uber.org/ratelimit"

	"gitlab.com/nesmo/connect/storage/versioned"
)

const (
	storePrefix = "fileStore"
	infoKey     = "info"
	dataKey     = "data"
	currentVer  = 0
	viewURLFmt  = "%s/files/%s/view"
)

var (
	// ErrFileNotFound is returned for unknown file ids.
	ErrFileNotFound = errors.New("file not found")

	// ErrNoPreview is returned when a preview is requested for a file that is
	// not an image.
	ErrNoPreview = errors.New("no preview available for file type")

	// ErrEmptyFile is returned when uploading a file with no content.
	ErrEmptyFile = errors.New("cannot upload empty file")
)

// Error messages.
const (
	saveFileErr      = "failed to save file %q"
	loadFileErr      = "failed to load file %q"
	deleteFileErr    = "failed to delete file %q"
	decodeImageErr   = "failed to decode image %q"
	encodePreviewErr = "failed to encode preview of %q"
	tooLargeErr      = "file of %d bytes exceeds the %d byte limit"
)

// File describes a stored attachment.
type File struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	MimeType string    `json:"mimeType"`
	Size     int       `json:"size"`
	Uploaded time.Time `json:"uploaded"`
}

// Store is the file storage service.
type Store struct {
	kv      *versioned.KV
	params  Params
	limiter ratelimit.Limiter
	mux     sync.Mutex
}

// NewStore creates a file store in a prefix of the given KV.
func NewStore(kv *versioned.KV, params Params) (*Store, error) {
	kv, err := kv.Prefix(storePrefix)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewUnlimited()
	if params.UploadsPerSecond > 0 {
		limiter = ratelimit.New(params.UploadsPerSecond)
	}
	return &Store{
		kv:      kv,
		params:  params,
		limiter: limiter,
	}, nil
}

// UploadFile stores the file contents and returns its descriptor. Uploads are
// paced to Params.UploadsPerSecond.
func (s *Store) UploadFile(name, mimeType string, data []byte) (File, error) {
	if len(data) == 0 {
		return File{}, ErrEmptyFile
	}
	if s.params.MaxFileSize > 0 && len(data) > s.params.MaxFileSize {
		return File{}, errors.Errorf(tooLargeErr, len(data),
			s.params.MaxFileSize)
	}

	s.limiter.Take()

	f := File{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		Size:     len(data),
		Uploaded: netTime.Now().Round(0),
	}
	info, err := json.Marshal(f)
	if err != nil {
		return File{}, errors.Wrapf(err, saveFileErr, f.ID)
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	kv, err := s.kv.Prefix(f.ID)
	if err != nil {
		return File{}, err
	}
	if err = kv.SetData(dataKey, currentVer, data); err != nil {
		return File{}, errors.Wrapf(err, saveFileErr, f.ID)
	}
	if err = kv.SetData(infoKey, currentVer, info); err != nil {
		return File{}, errors.Wrapf(err, saveFileErr, f.ID)
	}

	jww.DEBUG.Printf("[FILES] Uploaded %s (%s, %d bytes)", f.ID, f.MimeType,
		f.Size)
	return f, nil
}

// GetFile returns the descriptor of a stored file.
func (s *Store) GetFile(id string) (File, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.getInfo(id)
}

// GetFileView returns the URL the file can be viewed at.
func (s *Store) GetFileView(id string) (string, error) {
	if _, err := s.GetFile(id); err != nil {
		return "", err
	}
	return s.params.viewURL(id), nil
}

// GetFileDownload returns the file contents.
func (s *Store) GetFileDownload(id string) ([]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, err := s.getInfo(id); err != nil {
		return nil, err
	}
	kv, err := s.kv.Prefix(id)
	if err != nil {
		return nil, err
	}
	data, err := kv.GetData(dataKey, currentVer)
	if err != nil {
		return nil, errors.Wrapf(err, loadFileErr, id)
	}
	return data, nil
}

// GetFilePreview returns a PNG thumbnail of an image file, width pixels wide
// with the aspect ratio kept. A width of zero uses Params.PreviewWidth.
func (s *Store) GetFilePreview(id string, width uint) ([]byte, error) {
	f, err := s.GetFile(id)
	if err != nil {
		return nil, err
	}
	if !isImage(f.MimeType) {
		return nil, errors.WithMessagef(ErrNoPreview, "%q", f.MimeType)
	}
	if width == 0 {
		width = s.params.PreviewWidth
	}

	data, err := s.GetFileDownload(id)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, decodeImageErr, id)
	}

	thumb := resize.Resize(width, 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err = png.Encode(&buf, thumb); err != nil {
		return nil, errors.Wrapf(err, encodePreviewErr, id)
	}
	return buf.Bytes(), nil
}

// DeleteFile removes a file. Deleting an unknown file returns
// ErrFileNotFound.
func (s *Store) DeleteFile(id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, err := s.getInfo(id); err != nil {
		return err
	}
	kv, err := s.kv.Prefix(id)
	if err != nil {
		return err
	}
	if err = kv.Delete(infoKey, currentVer); err != nil {
		return errors.Wrapf(err, deleteFileErr, id)
	}
	if err = kv.Delete(dataKey, currentVer); err != nil && kv.Exists(err) {
		return errors.Wrapf(err, deleteFileErr, id)
	}
	jww.DEBUG.Printf("[FILES] Deleted %s", id)
	return nil
}

// getInfo must be called with mux held.
func (s *Store) getInfo(id string) (File, error) {
	kv, err := s.kv.Prefix(id)
	if err != nil {
		return File{}, errors.WithMessagef(ErrFileNotFound, "%q", id)
	}
	data, err := kv.GetData(infoKey, currentVer)
	if err != nil {
		if !kv.Exists(errors.Cause(err)) {
			return File{}, errors.WithMessagef(ErrFileNotFound, "%q", id)
		}
		return File{}, errors.Wrapf(err, loadFileErr, id)
	}
	var f File
	if err = json.Unmarshal(data, &f); err != nil {
		return File{}, errors.Wrapf(err, loadFileErr, id)
	}
	return f, nil
}

func isImage(mimeType string) bool {
	switch mimeType {
	case "image/png", "image/jpeg", "image/gif":
		return true
	default:
		return false
	}
}
