// Package journal persists snapshots of a node's metadata map so that a restarted node resumes
// from its last state instead of an empty map.
//
// A snapshot is a whole value, so only the newest one matters: pending snapshots that were not
// written yet are superseded by newer ones, and the file is compacted down to the newest record
// once it holds enough records.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"nsmeta/pkg/clock"
	"nsmeta/pkg/compression"
	"nsmeta/pkg/listener"
	"nsmeta/pkg/types"
)

const fileName = "journal.log"

// header: seq (8) + payload length (4) + crc32 of payload (4)
const headerSize = 16

// maxRecordSize bounds the allocation for a damaged length field.
const maxRecordSize = 1 << 30

var ErrCorrupt = errors.New("journal: corrupt record")

// Record is one snapshot. Data is the uncompressed encoded map.
type Record struct {
	Seq  types.SeqN
	Data []byte
}

// Journal appends snapshot records to a single file.
type Journal struct {
	*listener.Listener[struct{}]

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	dir      string
	filePath string
	codec    compression.Codec
	keep     int
	records  int

	seq     *clock.AtomicClock
	pending atomic.Pointer[Record]
	wakeCh  chan struct{}
	doneCh  chan types.SeqN
}

// Open opens or creates the journal in dir. keep is the number of records after which the file
// is compacted to the newest one; values below 1 mean 1.
func Open(dir string, codec compression.Codec, keep int) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty journal dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	if keep < 1 {
		keep = 1
	}

	j := &Journal{
		dir:      dir,
		filePath: filepath.Join(dir, fileName),
		codec:    codec,
		keep:     keep,
		seq:      clock.NewAtomic(0),
		wakeCh:   make(chan struct{}, 1),
		doneCh:   make(chan types.SeqN, 16),
	}

	// подхватываем последнюю позицию, чтобы номера продолжали расти
	intact, err := j.scan(0, func(r Record) error {
		j.seq.Observe(r.Seq)
		j.records++
		return nil
	})
	if err != nil {
		return nil, err
	}
	// обрезаем повреждённый хвост, иначе новые записи окажутся за ним
	if fi, err := os.Stat(j.filePath); err == nil && fi.Size() > intact {
		if err := os.Truncate(j.filePath, intact); err != nil {
			return nil, fmt.Errorf("failed to truncate damaged journal tail: %w", err)
		}
	}

	if err := j.openForAppend(); err != nil {
		return nil, err
	}
	j.Listener = listener.New(j.wakeCh, j.flushPending)
	return j, nil
}

func (j *Journal) openForAppend() error {
	file, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	j.file = file
	j.writer = bufio.NewWriter(file)
	return nil
}

// Append schedules a snapshot for writing and returns its sequence number. It never blocks:
// if a previous snapshot is still pending, the new one replaces it.
func (j *Journal) Append(data []byte) types.SeqN {
	rec := &Record{Seq: j.seq.Next(), Data: data}
	j.pending.Store(rec)

	select {
	case j.wakeCh <- struct{}{}:
	default:
	}
	return rec.Seq
}

// Done delivers the sequence numbers of records that reached the disk. Slow readers miss
// notifications rather than block the writer.
func (j *Journal) Done() <-chan types.SeqN {
	return j.doneCh
}

// Flush writes the pending snapshot, if any, synchronously.
func (j *Journal) Flush() error {
	return j.flushPending(struct{}{})
}

// called by the listener on every wake-up
func (j *Journal) flushPending(struct{}) error {
	rec := j.pending.Swap(nil)
	if rec == nil {
		return nil
	}
	if err := j.Write(*rec); err != nil {
		return err
	}

	select {
	case j.doneCh <- rec.Seq:
	default:
	}
	return nil
}

// Write appends one record and syncs the file.
func (j *Journal) Write(rec Record) error {
	payload, err := compression.Wrap(j.codec, rec.Data)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return fmt.Errorf("journal is closed")
	}
	if j.records >= j.keep {
		if err := j.compactLocked(rec.Seq, payload); err != nil {
			return fmt.Errorf("failed to compact journal: %w", err)
		}
		slog.Debug("journal compacted", "seq", rec.Seq, "size", humanize.Bytes(uint64(len(payload))))
		return nil
	}

	if err := writeRecord(j.writer, rec.Seq, payload); err != nil {
		return fmt.Errorf("failed to write journal record: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	j.records++
	return nil
}

// compactLocked replaces the file with one holding only the given record.
func (j *Journal) compactLocked(seq types.SeqN, payload []byte) error {
	tmpPath := j.filePath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	if err := writeRecord(w, seq, payload); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := j.file.Close(); err != nil {
		slog.Warn("failed to close journal before compaction", "error", err)
	}
	if err := os.Rename(tmpPath, j.filePath); err != nil {
		return err
	}
	j.records = 1
	return j.openForAppend()
}

// Last returns the newest intact record.
func (j *Journal) Last() (Record, bool, error) {
	var (
		last  Record
		found bool
	)
	err := j.Replay(0, func(r Record) error {
		last, found = r, true
		return nil
	})
	return last, found, err
}

// Replay calls fn for every intact record with Seq >= start in file order. A torn or corrupt
// tail (a crash in the middle of a write) ends the replay without an error.
func (j *Journal) Replay(start types.SeqN, fn func(Record) error) error {
	_, err := j.scan(start, fn)
	return err
}

// scan is Replay that also returns the length of the intact prefix of the file.
func (j *Journal) scan(start types.SeqN, fn func(Record) error) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return 0, fmt.Errorf("failed to flush journal before replay: %w", err)
		}
	}

	file, err := os.Open(j.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open journal for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close journal read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	var intact int64
	for {
		seq, payload, err := readRecord(reader)
		if errors.Is(err, io.EOF) {
			return intact, nil
		}
		if errors.Is(err, ErrCorrupt) || errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Warn("journal tail is damaged, ignoring the rest", "path", j.filePath, "error", err)
			return intact, nil
		}
		if err != nil {
			return intact, fmt.Errorf("failed to read journal record: %w", err)
		}
		intact += int64(headerSize + len(payload))
		if seq < start {
			continue
		}

		data, err := compression.Unwrap(payload)
		if err != nil {
			return intact, fmt.Errorf("journal record %d: %w", seq, err)
		}
		if err := fn(Record{Seq: seq, Data: data}); err != nil {
			return intact, fmt.Errorf("journal replay callback failed: %w", err)
		}
	}
}

// Close flushes the pending snapshot and closes the file. Stop the listener first.
// The Done channel is never closed.
func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		slog.Error("failed to flush pending snapshot", "error", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush journal on close: %w", err)
		}
		j.writer = nil
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
	}
	return nil
}

func writeRecord(w io.Writer, seq types.SeqN, payload []byte) error {
	if len(payload) > math.MaxUint32 {
		return fmt.Errorf("record too large: %d", len(payload))
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[0:], seq)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[12:], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readRecord(r io.Reader) (types.SeqN, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	seq := binary.LittleEndian.Uint64(hdr[0:])
	size := binary.LittleEndian.Uint32(hdr[8:])
	sum := binary.LittleEndian.Uint32(hdr[12:])
	if size > maxRecordSize {
		return 0, nil, fmt.Errorf("%w: seq %d claims %d bytes", ErrCorrupt, seq, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return 0, nil, fmt.Errorf("%w: seq %d checksum mismatch", ErrCorrupt, seq)
	}
	return seq, payload, nil
}
