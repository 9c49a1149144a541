package txnlog

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/y/logging"
	"github.com/golang/snappy"
)

var plog = logging.GetLogger("txnlog")

const (
	fileName   = "txn.log"
	headerSize = 8
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// FileLog appends one frame per commit: length | crc32c | snappy(record).
// A torn frame at the tail is cut off when the log is opened.
type FileLog struct {
	mu   sync.Mutex
	fs   vfs.FS
	path string
	f    vfs.File
	sync bool
	buf  []byte

	// recovered is the valid prefix found at open, consumed by Replay.
	recovered []byte
	records   int
}

// Open opens the log in dir. A nil fs means the OS filesystem.
func Open(fs vfs.FS, dir string, syncWrites bool) (*FileLog, error) {
	if fs == nil {
		fs = vfs.Default
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create log dir %s", dir)
	}
	l := &FileLog{fs: fs, path: fs.PathJoin(dir, fileName), sync: syncWrites}

	data, err := readAll(fs, l.path)
	if err != nil {
		return nil, err
	}
	valid, n := scanFrames(data)
	if valid < len(data) {
		plog.Warningf("txn log %s: dropping %d bytes of torn tail after %d commits", l.path, len(data)-valid, n)
	}
	l.recovered, l.records = data[:valid], n

	// rewrite the valid prefix and keep appending to it
	tmp := l.path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", tmp)
	}
	// the file may keep or scribble on what it is given
	if _, err := f.Write(bytes.Clone(l.recovered)); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "rewrite %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sync %s", tmp)
	}
	if err := fs.Rename(tmp, l.path); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "rename %s", tmp)
	}
	l.f = f
	plog.Infof("txn log opened at %s with %d commits", l.path, n)
	return l, nil
}

func readAll(fs vfs.FS, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if oserror.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return data, errors.Wrapf(err, "read %s", path)
}

// scanFrames returns the length of the valid prefix and the frames in it.
func scanFrames(data []byte) (int, int) {
	pos, n := 0, 0
	for {
		payload, size := nextFrame(data[pos:])
		if payload == nil {
			return pos, n
		}
		if _, err := decodeFrame(payload); err != nil {
			return pos, n
		}
		pos += size
		n++
	}
}

func nextFrame(b []byte) ([]byte, int) {
	if len(b) < headerSize {
		return nil, 0
	}
	l := int(binary.BigEndian.Uint32(b))
	sum := binary.BigEndian.Uint32(b[4:])
	if l == 0 || len(b)-headerSize < l {
		return nil, 0
	}
	payload := b[headerSize : headerSize+l]
	if crc32.Checksum(payload, crcTable) != sum {
		return nil, 0
	}
	return payload, headerSize + l
}

func decodeFrame(payload []byte) (CommitRecord, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return CommitRecord{}, errors.Wrap(err, "decompress commit record")
	}
	return decodeRecord(raw)
}

func (l *FileLog) LogCommit(rec *CommitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("txn log closed")
	}

	l.buf = rec.encode(l.buf[:0])
	payload := snappy.Encode(nil, l.buf)
	frame := make([]byte, headerSize, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:], crc32.Checksum(payload, crcTable))
	frame = append(frame, payload...)

	if _, err := l.f.Write(frame); err != nil {
		return errors.Wrapf(err, "append commit %d", rec.TxnID)
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return errors.Wrapf(err, "sync commit %d", rec.TxnID)
		}
	}
	l.records++
	return nil
}

// Replay visits the commits found when the log was opened. It can run once.
func (l *FileLog) Replay(fn func(rec CommitRecord) error) error {
	l.mu.Lock()
	data := l.recovered
	l.recovered = nil
	l.mu.Unlock()

	for pos := 0; pos < len(data); {
		payload, size := nextFrame(data[pos:])
		rec, err := decodeFrame(payload)
		if err != nil {
			return errors.Wrapf(err, "replay at offset %d", pos)
		}
		if err := fn(rec); err != nil {
			return err
		}
		pos += size
	}
	return nil
}

// Records is the number of commits in the log.
func (l *FileLog) Records() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Sync()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return errors.Wrap(err, "close txn log")
}
