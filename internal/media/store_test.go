package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// minimal valid payloads per format, enough for content sniffing
var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfBytes = []byte("%PDF-1.4\n%fake document body")
	wavBytes = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(t.TempDir(), "http://localhost:8080/storage/")
	require.NoError(t, err)

	return s
}

func TestSaveImage(t *testing.T) {
	s := newTestStore(t)

	url, err := s.Save("IMAGE", pngBytes)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/storage/"))
	require.True(t, strings.HasSuffix(url, ".png"))

	name := url[strings.LastIndex(url, "/")+1:]
	stored, err := os.ReadFile(filepath.Join(s.Dir(), name))
	require.NoError(t, err)
	require.Equal(t, pngBytes, stored)
}

func TestSaveRejectsMismatchedType(t *testing.T) {
	s := newTestStore(t)

	// an image is not an acceptable FILE attachment
	_, err := s.Save("FILE", pngBytes)
	require.Equal(t, ErrBadMime, err)

	_, err = s.Save("RECORD", pdfBytes)
	require.Equal(t, ErrBadMime, err)

	_, err = s.Save("TEXT", pngBytes)
	require.Equal(t, ErrBadMime, err)
}

func TestSaveFile(t *testing.T) {
	s := newTestStore(t)

	url, err := s.Save("FILE", pdfBytes)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(url, ".pdf"))
}

func TestSaveRecord(t *testing.T) {
	s := newTestStore(t)

	url, err := s.Save("RECORD", wavBytes)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(url, ".wav"))
}

func TestSaveTooLarge(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save("IMAGE", make([]byte, MaxUploadSize+1))
	require.Equal(t, ErrTooLarge, err)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)

	url, err := s.Save("IMAGE", pngBytes)
	require.NoError(t, err)

	name := url[strings.LastIndex(url, "/")+1:]
	require.NoError(t, s.Remove(url))

	_, err = os.Stat(filepath.Join(s.Dir(), name))
	require.True(t, os.IsNotExist(err))
}

func TestRemoveUnknownReference(t *testing.T) {
	s := newTestStore(t)

	// a dangling reference is not an error
	require.NoError(t, s.Remove("http://localhost:8080/storage/gone.png"))
	require.NoError(t, s.Remove(""))
}

func TestSaveUniqueNames(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Save("IMAGE", pngBytes)
	require.NoError(t, err)
	second, err := s.Save("IMAGE", pngBytes)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
