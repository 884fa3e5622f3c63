package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/graphgo/core"
)

// Compression selects the block codec of the record log.
type Compression uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses zstd block compression (better ratio).
	CompressionZSTD Compression = 2
)

const (
	logFileName     = "records.log"
	horizonFileName = "HORIZON"
	markerFileName  = "MARKER"

	logMagic   = "GGLOG"
	logVersion = 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Log is the append-only record log backing MemStore persistence. Entries
// are framed blocks: [ulen uint32][clen uint32][crc uint32][payload], clen 0
// meaning the payload is stored uncompressed.
type Log struct {
	dir   string
	file  *os.File
	w     *bufio.Writer
	codec Compression

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenLog opens or creates the record log in dir.
func OpenLog(dir string, codec Compression) (*Log, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) //nolint:gosec // G304: Path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to open record log: %w", err)
	}
	l := &Log{dir: dir, file: file, codec: codec}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat record log: %w", err)
	}
	if st.Size() == 0 {
		header := append([]byte(logMagic), logVersion, byte(codec))
		if _, err := file.Write(header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to write log header: %w", err)
		}
	} else {
		header := make([]byte, len(logMagic)+2)
		if _, err := file.ReadAt(header, 0); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to read log header: %w", err)
		}
		if string(header[:len(logMagic)]) != logMagic || header[len(logMagic)] != logVersion {
			_ = file.Close()
			return nil, fmt.Errorf("record log header mismatch: %w", core.ErrCorrupt)
		}
		l.codec = Compression(header[len(logMagic)+1])
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to seek record log: %w", err)
	}
	l.w = bufio.NewWriter(file)
	if l.codec == CompressionZSTD {
		l.enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		l.dec, _ = zstd.NewReader(nil)
	}
	return l, nil
}

// Append writes one record entry to the log buffer. Durability requires a
// later Sync.
func (l *Log) Append(rec *core.Record) error {
	payload := encodeRecord(rec)
	compressed, clen, err := l.compress(payload)
	if err != nil {
		return err
	}
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:], uint32(clen))
	binary.BigEndian.PutUint32(hdr[8:], crc32.Checksum(payload, crcTable))
	if _, err := l.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write log entry header: %w", err)
	}
	if _, err := l.w.Write(compressed); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// compress returns the stored bytes and the clen header value (0 when the
// block is stored uncompressed, either by codec or because compression did
// not help).
func (l *Log) compress(payload []byte) ([]byte, int, error) {
	switch l.codec {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if n == 0 || n >= len(payload) {
			return payload, 0, nil
		}
		return buf[:n], n, nil
	case CompressionZSTD:
		buf := l.enc.EncodeAll(payload, nil)
		if len(buf) >= len(payload) {
			return payload, 0, nil
		}
		return buf, len(buf), nil
	default:
		return payload, 0, nil
	}
}

func (l *Log) decompress(stored []byte, ulen int) ([]byte, error) {
	switch l.codec {
	case CompressionLZ4:
		buf := make([]byte, ulen)
		n, err := lz4.UncompressBlock(stored, buf)
		if err != nil || n != ulen {
			return nil, fmt.Errorf("lz4 block decode failed: %w", core.ErrCorrupt)
		}
		return buf, nil
	case CompressionZSTD:
		buf, err := l.dec.DecodeAll(stored, nil)
		if err != nil || len(buf) != ulen {
			return nil, fmt.Errorf("zstd block decode failed: %w", core.ErrCorrupt)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("compressed block under codec none: %w", core.ErrCorrupt)
	}
}

// Replay streams every logged record in append order.
func (l *Log) Replay(fn func(rec *core.Record) error) error {
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush before replay: %w", err)
	}
	if _, err := l.file.Seek(int64(len(logMagic)+2), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek record log: %w", err)
	}
	r := bufio.NewReader(l.file)
	var hdr [12]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("truncated log entry header: %w", core.ErrCorrupt)
		}
		ulen := int(binary.BigEndian.Uint32(hdr[0:]))
		clen := int(binary.BigEndian.Uint32(hdr[4:]))
		crc := binary.BigEndian.Uint32(hdr[8:])
		stored := ulen
		if clen > 0 {
			stored = clen
		}
		buf := make([]byte, stored)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("truncated log entry: %w", core.ErrCorrupt)
		}
		payload := buf
		if clen > 0 {
			var err error
			if payload, err = l.decompress(buf, ulen); err != nil {
				return err
			}
		}
		if crc32.Checksum(payload, crcTable) != crc {
			return fmt.Errorf("log entry checksum mismatch: %w", core.ErrCorrupt)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek record log: %w", err)
	}
	return nil
}

// Sync flushes buffered entries and fsyncs the log file.
func (l *Log) Sync() error {
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush record log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync record log: %w", err)
	}
	return nil
}

// Truncate rewrites the log keeping only records with id < h.
func (l *Log) Truncate(h core.RecordID) error {
	var kept []*core.Record
	if err := l.Replay(func(rec *core.Record) error {
		if rec.ID < h {
			kept = append(kept, rec)
		}
		return nil
	}); err != nil {
		return err
	}
	tmp := filepath.Join(l.dir, logFileName+".tmp")
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600) //nolint:gosec // G304: Path is configurable
	if err != nil {
		return fmt.Errorf("failed to open truncation temp file: %w", err)
	}
	old := l.file
	l.file = file
	l.w = bufio.NewWriter(file)
	header := append([]byte(logMagic), logVersion, byte(l.codec))
	if _, err := l.w.Write(header); err != nil {
		return fmt.Errorf("failed to write log header: %w", err)
	}
	for _, rec := range kept {
		if err := l.Append(rec); err != nil {
			return err
		}
	}
	if err := l.Sync(); err != nil {
		return err
	}
	_ = old.Close()
	if err := os.Rename(tmp, filepath.Join(l.dir, logFileName)); err != nil {
		return fmt.Errorf("failed to swap truncated log: %w", err)
	}
	return nil
}

// WriteHorizon durably records the committed horizon (write-then-rename).
func (l *Log) WriteHorizon(h core.RecordID) error {
	return l.writeIDFile(horizonFileName, h)
}

// ReadHorizon returns the recorded committed horizon, if any.
func (l *Log) ReadHorizon() (core.RecordID, bool, error) {
	return l.readIDFile(horizonFileName)
}

// WriteMarker durably records the intended checkpoint horizon.
func (l *Log) WriteMarker(h core.RecordID) error {
	return l.writeIDFile(markerFileName, h)
}

// ReadMarker returns the recorded intended horizon, if any.
func (l *Log) ReadMarker() (core.RecordID, bool, error) {
	return l.readIDFile(markerFileName)
}

// ClearMarker removes the intended-horizon marker.
func (l *Log) ClearMarker() error {
	err := os.Remove(filepath.Join(l.dir, markerFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear marker: %w", err)
	}
	return nil
}

func (l *Log) writeIDFile(name string, h core.RecordID) error {
	tmp := filepath.Join(l.dir, name+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(h), 10)), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(l.dir, name)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

func (l *Log) readIDFile(name string) (core.RecordID, bool, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, name)) //nolint:gosec // G304: Path is configurable
	if err != nil {
		if os.IsNotExist(err) {
			return core.NoRecord, false, nil
		}
		return core.NoRecord, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return core.NoRecord, false, fmt.Errorf("%s contents: %w", name, core.ErrCorrupt)
	}
	return core.RecordID(v), true, nil
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	if err := l.Sync(); err != nil {
		return err
	}
	if l.enc != nil {
		_ = l.enc.Close()
	}
	return l.file.Close()
}

// Record payload layout, big endian:
//
//	id u32 | db uuid 16 | global-local u32 | flags u8 |
//	[edge u32 per set role bit] | [name u16+bytes] | [value u32+bytes] |
//	[lineage u32, generation u32]
const (
	flagName  = 1 << 4
	flagValue = 1 << 5
	flagGen   = 1 << 6
)

func encodeRecord(rec *core.Record) []byte {
	buf := make([]byte, 0, 64+len(rec.Name)+len(rec.Value))
	buf = binary.BigEndian.AppendUint32(buf, uint32(rec.ID))
	buf = append(buf, rec.Global.DB[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(rec.Global.Local))
	var flags byte
	for role := core.EdgeRole(0); role < core.NumRoles; role++ {
		if rec.Edges[role] != core.NoRecord {
			flags |= 1 << role
		}
	}
	if rec.Name != nil {
		flags |= flagName
	}
	if rec.Value != nil {
		flags |= flagValue
	}
	if rec.Gen != nil {
		flags |= flagGen
	}
	buf = append(buf, flags)
	for role := core.EdgeRole(0); role < core.NumRoles; role++ {
		if rec.Edges[role] != core.NoRecord {
			buf = binary.BigEndian.AppendUint32(buf, uint32(rec.Edges[role]))
		}
	}
	if rec.Name != nil {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(rec.Name)))
		buf = append(buf, rec.Name...)
	}
	if rec.Value != nil {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec.Value)))
		buf = append(buf, rec.Value...)
	}
	if rec.Gen != nil {
		buf = binary.BigEndian.AppendUint32(buf, uint32(rec.Gen.Lineage))
		buf = binary.BigEndian.AppendUint32(buf, rec.Gen.Index)
	}
	return buf
}

func decodeRecord(buf []byte) (*core.Record, error) {
	bad := func() (*core.Record, error) {
		return nil, fmt.Errorf("record payload: %w", core.ErrCorrupt)
	}
	if len(buf) < 25 {
		return bad()
	}
	rec := &core.Record{}
	rec.ID = core.RecordID(binary.BigEndian.Uint32(buf))
	copy(rec.Global.DB[:], buf[4:20])
	rec.Global.Local = core.RecordID(binary.BigEndian.Uint32(buf[20:]))
	flags := buf[24]
	buf = buf[25:]
	for role := core.EdgeRole(0); role < core.NumRoles; role++ {
		if flags&(1<<role) == 0 {
			continue
		}
		if len(buf) < 4 {
			return bad()
		}
		rec.Edges[role] = core.RecordID(binary.BigEndian.Uint32(buf))
		buf = buf[4:]
	}
	if flags&flagName != 0 {
		if len(buf) < 2 {
			return bad()
		}
		n := int(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < n {
			return bad()
		}
		rec.Name = append([]byte{}, buf[:n]...)
		buf = buf[n:]
	}
	if flags&flagValue != 0 {
		if len(buf) < 4 {
			return bad()
		}
		n := int(binary.BigEndian.Uint32(buf))
		buf = buf[4:]
		if len(buf) < n {
			return bad()
		}
		rec.Value = append([]byte{}, buf[:n]...)
		buf = buf[n:]
	}
	if flags&flagGen != 0 {
		if len(buf) < 8 {
			return bad()
		}
		rec.Gen = &core.Generation{
			Lineage: core.RecordID(binary.BigEndian.Uint32(buf)),
			Index:   binary.BigEndian.Uint32(buf[4:]),
		}
		buf = buf[8:]
	}
	if len(buf) != 0 {
		return bad()
	}
	return rec, nil
}
