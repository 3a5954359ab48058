// Package shm sizes and memory-maps the flow "data" file shared between a
// writer and its readers. Mapping goes through golang.org/x/sys/unix's
// thin Mmap/Munmap calls with explicit PROT_*/MAP_* flags and errno
// checks, rather than a higher-level mapping library.
package shm

import (
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/clearpath-media/mxl/internal/errs"
)

// Segment wraps a memory-mapped file. The zero value is not usable; build
// one with Create, OpenRO, or OpenRW.
type Segment struct {
	file     *os.File
	data     []byte
	ino      uint64
	path     string
	readOnly bool
}

// Create atomically creates path, truncates it to size (page-rounded), and
// maps it read-write. If exclusive is true, Create fails with AlreadyExists
// when path already exists; otherwise an existing file is opened and
// mapped as-is. hugePage requests MAP_HUGETLB and, if that mapping fails
// for any reason, silently retries without it, since its absence must not
// break correctness.
func Create(path string, size int64, exclusive bool, hugePage bool) (*Segment, error) {
	flags := os.O_RDWR | os.O_CREATE
	if exclusive {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errs.New("shm.Create", errs.AlreadyExists, path)
		}
		return nil, errs.Wrap("shm.Create", err)
	}

	pageSize := int64(os.Getpagesize())
	rounded := roundUp(size, pageSize)
	if err := f.Truncate(rounded); err != nil {
		f.Close()
		return nil, errs.Wrap("shm.Create", err)
	}

	data, err := mapFile(f, rounded, unix.PROT_READ|unix.PROT_WRITE, hugePage)
	if err != nil {
		f.Close()
		return nil, err
	}

	ino, err := inodeOf(f)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	return &Segment{file: f, data: data, ino: ino, path: path}, nil
}

// OpenRO opens an existing segment read-only.
func OpenRO(path string) (*Segment, error) {
	return open(path, os.O_RDONLY, unix.PROT_READ, true)
}

// OpenRW opens an existing segment read-write.
func OpenRW(path string) (*Segment, error) {
	return open(path, os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE, false)
}

func open(path string, flags int, prot int, readOnly bool) (*Segment, error) {
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("shm.open", errs.NotFound, path)
		}
		return nil, errs.Wrap("shm.open", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap("shm.open", err)
	}

	data, err := mapFile(f, st.Size(), prot, false)
	if err != nil {
		f.Close()
		return nil, err
	}

	ino, err := inodeOf(f)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	return &Segment{file: f, data: data, ino: ino, path: path, readOnly: readOnly}, nil
}

func mapFile(f *os.File, size int64, prot int, hugePage bool) ([]byte, error) {
	flags := unix.MAP_SHARED
	if hugePage {
		flags |= unix.MAP_HUGETLB
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, flags)
	if err != nil && hugePage {
		// Huge pages are a best-effort optimization; retry without them.
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	}
	if err != nil {
		return nil, errs.Wrap("shm.mapFile", err)
	}
	return data, nil
}

func inodeOf(f *os.File) (uint64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, errs.Wrap("shm.inodeOf", err)
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errs.New("shm.inodeOf", errs.Internal, "unsupported platform stat type")
	}
	return sys.Ino, nil
}

// Revalidate stats the backing path and reports Stale if it is missing or
// its inode no longer matches the mapping (the flow was recreated
// underneath this process).
func (s *Segment) Revalidate() error {
	st, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.New("shm.Revalidate", errs.Stale, s.path)
		}
		return errs.Wrap("shm.Revalidate", err)
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok || sys.Ino != s.ino {
		return errs.New("shm.Revalidate", errs.Stale, s.path)
	}
	return nil
}

// Bytes returns the mapped region.
func (s *Segment) Bytes() []byte { return s.data }

// Base returns the raw pointer to the mapped region's first byte, for
// callers that build layout.Header/CellView accessors over it.
func (s *Segment) Base() unsafe.Pointer {
	if len(s.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&s.data[0])
}

// Close unmaps and closes the backing file.
func (s *Segment) Close() error {
	var mErr error
	if s.data != nil {
		mErr = unix.Munmap(s.data)
		s.data = nil
	}
	fErr := s.file.Close()
	if mErr != nil {
		return errs.Wrap("shm.Close", mErr)
	}
	if fErr != nil {
		return errs.Wrap("shm.Close", fErr)
	}
	return nil
}

func roundUp(size, page int64) int64 {
	if size <= 0 {
		return page
	}
	rem := size % page
	if rem == 0 {
		return size
	}
	return size + (page - rem)
}
