package physio

import (
	"os"

	"github.com/pkg/errors"

	"vdo/internal/layout"
)

// FileDevice backs a Device with a regular file or block special file,
// generalizing biscuit/src/fs/blk.go's ahci-backed Disk_i to a plain
// *os.File so the same VDO code runs against a loopback file in tests and a
// real block device in production.
type FileDevice struct {
	f        *os.File
	sizeBlks uint64
}

// OpenFileDevice opens path and reports its capacity in B-sized blocks.
// The file must already exist with its final size (mkvdo is responsible for
// sizing it); physio never grows or truncates the backing file.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "physio: open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "physio: stat %s", path)
	}
	return &FileDevice{f: f, sizeBlks: uint64(info.Size()) / layout.B}, nil
}

func (d *FileDevice) ReadAt(pbn layout.PBN, buf []byte) error {
	if len(buf) != layout.B {
		return errors.Errorf("physio: read buffer must be %d bytes, got %d", layout.B, len(buf))
	}
	_, err := d.f.ReadAt(buf, int64(pbn)*layout.B)
	return errors.Wrapf(err, "physio: read pbn %d", pbn)
}

func (d *FileDevice) WriteAt(pbn layout.PBN, buf []byte) error {
	if len(buf) != layout.B {
		return errors.Errorf("physio: write buffer must be %d bytes, got %d", layout.B, len(buf))
	}
	_, err := d.f.WriteAt(buf, int64(pbn)*layout.B)
	return errors.Wrapf(err, "physio: write pbn %d", pbn)
}

func (d *FileDevice) Flush() error {
	return errors.Wrap(d.f.Sync(), "physio: flush")
}

// Discard is a no-op on a plain file; VDO treats it as advisory only, so a
// backing store that can't honor TRIM/UNMAP simply ignores it.
func (d *FileDevice) Discard(pbn layout.PBN, count uint64) error {
	return nil
}

func (d *FileDevice) Size() uint64 { return d.sizeBlks }

// Close releases the underlying file handle.
func (d *FileDevice) Close() error {
	return errors.Wrap(d.f.Close(), "physio: close")
}
