package dbpf

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/opencontainers/go-digest"
)

// ByteSource provides random access to archive bytes.
//
// SourceID must return a stable identifier for the underlying content.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// Releaser is implemented by sources that hold an operating system resource
// they can give back between reads.
type Releaser interface {
	Release() error
}

// Resident is implemented by sources that keep their bytes in memory.
type Resident interface {
	Resident() int64
}

// viewer is implemented by sources that can return slices of their memory.
type viewer interface {
	Bytes() []byte
}

// FileSource reads an archive from disk with positioned reads.
//
// The file handle is opened on first use and may be released with Release;
// the next read reopens it. A plugin library holds thousands of archives,
// far more than the process may keep open at once.
type FileSource struct {
	path string
	size int64
	id   string

	mu sync.RWMutex
	f  *os.File
}

// OpenFile returns a FileSource for path. The file is opened to validate it
// and stays open until Release or Close.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s: is a directory", path)
	}
	return &FileSource{
		path: path,
		size: info.Size(),
		id:   fmt.Sprintf("file:%s:%d:%d", path, info.Size(), info.ModTime().UnixNano()),
		f:    f,
	}, nil
}

// Path returns the file path.
func (s *FileSource) Path() string { return s.path }

// Size returns the file size at open time.
func (s *FileSource) Size() int64 { return s.size }

// SourceID identifies the file by path, size and modification time.
func (s *FileSource) SourceID() string { return s.id }

// ReadAt implements io.ReaderAt, reopening the file if it was released.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	f := s.f
	if f != nil {
		n, err := f.ReadAt(p, off)
		s.mu.RUnlock()
		return n, err
	}
	s.mu.RUnlock()

	s.mu.Lock()
	if s.f == nil {
		f, err := os.Open(s.path)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		s.f = f
	}
	s.mu.Unlock()
	return s.ReadAt(p, off)
}

// Held reports whether the file handle is currently open.
func (s *FileSource) Held() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.f != nil
}

// Release closes the file handle. The source stays usable.
func (s *FileSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Close is an alias for Release.
func (s *FileSource) Close() error {
	return s.Release()
}

// BytesSource serves an archive held in memory.
type BytesSource struct {
	data []byte
	once sync.Once
	id   string
}

// NewBytesSource returns a source backed by data. The slice is not copied.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

// ReadAt implements io.ReaderAt over the backing slice.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("dbpf: negative offset %d", off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the backing slice.
func (s *BytesSource) Size() int64 { return int64(len(s.data)) }

// SourceID returns the content digest of the backing slice, computed on
// first use.
func (s *BytesSource) SourceID() string {
	s.once.Do(func() {
		s.id = "bytes:" + digest.FromBytes(s.data).String()
	})
	return s.id
}

// Bytes returns the backing slice.
func (s *BytesSource) Bytes() []byte { return s.data }

// Resident reports the bytes held in memory.
func (s *BytesSource) Resident() int64 { return int64(len(s.data)) }
