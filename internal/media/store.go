// Package media stores uploaded chat attachments on disk and hands back URL
// references. The message ledger only ever records the reference, never the
// bytes.
package media

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/xid"
)

// MaxUploadSize caps every attachment at 10MB.
const MaxUploadSize = 10 << 20

var (
	ErrTooLarge = errors.New("file exceeds the size limit")
	ErrBadMime  = errors.New("file type not allowed for this message type")
)

// Content types allowed per message type. Matching is done on sniffed
// content, not on the client-supplied filename.
var allowedMimes = map[string][]string{
	"IMAGE": {"image/"},
	"FILE": {
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	},
	"RECORD": {"audio/mpeg", "audio/wav"},
}

// Store writes attachments under dir and serves them below baseURL.
type Store struct {
	dir     string
	baseURL string
}

func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Save validates the payload against the message type's allow-list and size
// cap, persists it under a generated name and returns the reference URL.
func (s *Store) Save(msgType string, data []byte) (string, error) {
	if len(data) > MaxUploadSize {
		return "", ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !mimeAllowed(msgType, mt) {
		return "", ErrBadMime
	}

	name := xid.New().String() + mt.Extension()
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", err
	}

	return s.baseURL + "/" + name, nil
}

// Remove deletes the stored object a reference URL points at. A reference
// that no longer resolves to a file is not an error; callers replace or drop
// references best effort and must not fail on cleanup.
func (s *Store) Remove(ref string) error {
	name := path.Base(ref)
	if name == "." || name == "/" {
		return nil
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Dir is the directory attachments are stored in, exposed for static file
// serving.
func (s *Store) Dir() string {
	return s.dir
}

func mimeAllowed(msgType string, mt *mimetype.MIME) bool {
	for _, allowed := range allowedMimes[msgType] {
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(mt.String(), allowed) {
				return true
			}
		} else if mt.Is(allowed) {
			return true
		}
	}
	return false
}
