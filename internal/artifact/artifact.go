package artifact

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("artifact")

// DefaultMIMEType labels artifacts whose codec is unknown.
const DefaultMIMEType = "audio/webm"

var (
	ErrEncoding = errors.New("failed to assemble recording")
	ErrNotFound = errors.New("artifact not found")
)

// Artifact is a finished local recording exposed through a handle that can
// be played back or downloaded.
type Artifact struct {
	ID        string
	MIMEType  string
	Size      int
	Handle    string
	CreatedAt time.Time
}

// Store materializes ordered chunks into a single artifact.
type Store interface {
	Materialize(mime string, chunks [][]byte) (Artifact, error)
	Revoke(a Artifact) error
}

func labelFor(mime string) string {
	if strings.TrimSpace(mime) == "" {
		return DefaultMIMEType
	}
	return mime
}

func extensionFor(mime string) string {
	if c, err := codec.ContainerFor(mime); err == nil {
		return c.Extension
	}
	return "bin"
}

// FileStore writes artifacts to <dir>/<uuid>.<ext>.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Materialize(mime string, chunks [][]byte) (Artifact, error) {
	mime = labelFor(mime)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("%w: create dir: %v", ErrEncoding, err)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+"."+extensionFor(mime))
	tmp := path + ".part"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	size := 0
	for _, c := range chunks {
		n, err := f.Write(c)
		size += n
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return Artifact{}, fmt.Errorf("%w: write: %v", ErrEncoding, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Artifact{}, fmt.Errorf("%w: close: %v", ErrEncoding, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Artifact{}, fmt.Errorf("%w: rename: %v", ErrEncoding, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	a := Artifact{
		ID:        id,
		MIMEType:  mime,
		Size:      size,
		Handle:    (&url.URL{Scheme: "file", Path: abs}).String(),
		CreatedAt: time.Now(),
	}
	log.Infof("Artifact: wrote %d bytes to %s", size, abs)
	return a, nil
}

// Revoke deletes the artifact file. Revoking twice is not an error.
func (s *FileStore) Revoke(a Artifact) error {
	path, err := pathFromHandle(a.Handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("revoke %s: %w", a.ID, err)
	}
	return nil
}

// Path resolves a file:// handle.
func (s *FileStore) Path(handle string) (string, error) {
	return pathFromHandle(handle)
}

func pathFromHandle(handle string) (string, error) {
	u, err := url.Parse(handle)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q", ErrNotFound, handle)
	}
	return u.Path, nil
}

// MemoryStore keeps artifacts in memory behind mem://<uuid> handles.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Materialize(mime string, chunks [][]byte) (Artifact, error) {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	blob := make([]byte, 0, size)
	for _, c := range chunks {
		blob = append(blob, c...)
	}

	id := uuid.NewString()
	handle := "mem://" + id

	s.mu.Lock()
	s.blobs[handle] = blob
	s.mu.Unlock()

	return Artifact{ID: id, MIMEType: labelFor(mime), Size: size, Handle: handle, CreatedAt: time.Now()}, nil
}

func (s *MemoryStore) Revoke(a Artifact) error {
	s.mu.Lock()
	delete(s.blobs, a.Handle)
	s.mu.Unlock()
	return nil
}

// Bytes returns the blob behind handle.
func (s *MemoryStore) Bytes(handle string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, handle)
	}
	return b, nil
}

// Len is the number of live artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
