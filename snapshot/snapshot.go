// Package snapshot serializes the claimed contents of a table into a single
// compressed stream, the output of the bulk-load phase that downstream
// assembly consumes. A snapshot records which slots were claimed and the
// records they hold; it is not an incremental log and cannot be applied back
// onto a live table.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/klauspost/compress/zstd"

	"github.com/seqforge/kmerdht/kmer"
	"github.com/seqforge/kmerdht/table"
)

const (
	magicNumber uint32 = 0x4B444854 // "KDHT"
	version     uint32 = 1
)

// crc32cTable is the Castagnoli polynomial table, hardware-accelerated on
// x86 and ARM.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrBadMagic means the stream is not a snapshot.
	ErrBadMagic = errors.New("snapshot: bad magic number")
	// ErrVersion means the snapshot was written by an unknown format version.
	ErrVersion = errors.New("snapshot: unsupported version")
	// ErrChecksum means the record payload failed its integrity check.
	ErrChecksum = errors.New("snapshot: checksum mismatch")
)

type header struct {
	Magic      uint32
	Version    uint32
	Capacity   uint64
	Records    uint64
	BitmapLen  uint32
	PayloadLen uint32
}

// Manifest is a decoded snapshot.
type Manifest struct {
	// Capacity is the requested total capacity of the source table.
	Capacity uint64
	// Claimed holds the logical slot indices that were claimed when the
	// snapshot was taken.
	Claimed *roaring64.Bitmap
	// Records holds the claimed records in ascending slot order, parallel to
	// the bitmap's iteration order.
	Records []kmer.Record
}

// Write walks every logical slot of the table, remote-reads the claimed ones,
// and writes them to w. It returns the number of records written. The walk
// peeks occupancy counters, so the caller must barrier all writers before
// snapshotting or risk catching claims whose record write has not landed.
func Write(ctx context.Context, w io.Writer, t *table.Table) (int, error) {
	claimed := roaring64.New()
	var payload []byte

	for slot := uint64(0); slot < t.Size(); slot++ {
		used, err := t.SlotUsed(ctx, slot)
		if err != nil {
			return 0, fmt.Errorf("snapshot: slot %d: %w", slot, err)
		}
		if !used {
			continue
		}
		rec, err := t.ReadSlot(ctx, slot)
		if err != nil {
			return 0, fmt.Errorf("snapshot: slot %d: %w", slot, err)
		}
		claimed.Add(slot)
		payload = rec.AppendTo(payload)
	}

	var bitmapBuf bytes.Buffer
	if _, err := claimed.WriteTo(&bitmapBuf); err != nil {
		return 0, fmt.Errorf("snapshot: encode bitmap: %w", err)
	}
	bitmapBytes := bitmapBuf.Bytes()

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return 0, fmt.Errorf("snapshot: compressor: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return 0, fmt.Errorf("snapshot: compress records: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("snapshot: compress records: %w", err)
	}

	h := header{
		Magic:      magicNumber,
		Version:    version,
		Capacity:   t.Size(),
		Records:    claimed.GetCardinality(),
		BitmapLen:  uint32(len(bitmapBytes)),
		PayloadLen: uint32(compressed.Len()),
	}
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return 0, fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := w.Write(bitmapBytes); err != nil {
		return 0, fmt.Errorf("snapshot: write bitmap: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return 0, fmt.Errorf("snapshot: write records: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, crc32.Checksum(compressed.Bytes(), crc32cTable)); err != nil {
		return 0, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return int(h.Records), nil
}

// Read decodes a snapshot stream produced by Write.
func Read(r io.Reader) (*Manifest, error) {
	var h header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	if h.Magic != magicNumber {
		return nil, ErrBadMagic
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}

	bitmapBytes := make([]byte, h.BitmapLen)
	if _, err := io.ReadFull(r, bitmapBytes); err != nil {
		return nil, fmt.Errorf("snapshot: read bitmap: %w", err)
	}
	claimed := roaring64.New()
	if _, err := claimed.ReadFrom(bytes.NewReader(bitmapBytes)); err != nil {
		return nil, fmt.Errorf("snapshot: decode bitmap: %w", err)
	}
	if claimed.GetCardinality() != h.Records {
		return nil, fmt.Errorf("snapshot: bitmap has %d slots, header says %d",
			claimed.GetCardinality(), h.Records)
	}

	compressed := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("snapshot: read records: %w", err)
	}
	var sum uint32
	if err := binary.Read(r, binary.BigEndian, &sum); err != nil {
		return nil, fmt.Errorf("snapshot: read checksum: %w", err)
	}
	if sum != crc32.Checksum(compressed, crc32cTable) {
		return nil, ErrChecksum
	}

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompressor: %w", err)
	}
	defer dec.Close()
	payload, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompress records: %w", err)
	}
	if uint64(len(payload)) != h.Records*kmer.RecordSize {
		return nil, fmt.Errorf("snapshot: payload is %d bytes, want %d records of %d",
			len(payload), h.Records, kmer.RecordSize)
	}

	records := make([]kmer.Record, h.Records)
	for i := range records {
		rec, err := kmer.DecodeRecord(payload[i*kmer.RecordSize : (i+1)*kmer.RecordSize])
		if err != nil {
			return nil, fmt.Errorf("snapshot: record %d: %w", i, err)
		}
		records[i] = rec
	}

	return &Manifest{
		Capacity: h.Capacity,
		Claimed:  claimed,
		Records:  records,
	}, nil
}
