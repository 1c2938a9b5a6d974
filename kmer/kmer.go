package kmer

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Length is the number of nucleotides in a k-mer. Fixed at build time so that
// keys and records stay fixed-size value types.
const Length = 19

// ExtNone marks a fragment with no extension on that side, i.e. the start or
// end of a contig.
const ExtNone = 'F'

// PackedLen is the byte size of a packed k-mer: 2 bits per base.
const PackedLen = (Length + 3) / 4

// RecordSize is the byte size of an encoded Record.
const RecordSize = PackedLen + 2

// Kmer is a fixed-length nucleotide sequence packed 2 bits per base.
// It is a comparable value type; == is sequence equality.
type Kmer struct {
	packed [PackedLen]byte
}

// Pack encodes an ACGT string of exactly Length bases.
func Pack(seq string) (Kmer, error) {
	var k Kmer
	if len(seq) != Length {
		return k, fmt.Errorf("kmer: sequence length %d, want %d", len(seq), Length)
	}
	for i := 0; i < Length; i++ {
		c, ok := baseCode(seq[i])
		if !ok {
			return k, fmt.Errorf("kmer: invalid base %q at position %d", seq[i], i)
		}
		k.packed[i/4] |= c << ((i % 4) * 2)
	}
	return k, nil
}

// String unpacks the k-mer back into its ACGT form.
func (k Kmer) String() string {
	buf := make([]byte, Length)
	for i := 0; i < Length; i++ {
		c := (k.packed[i/4] >> ((i % 4) * 2)) & 0x3
		buf[i] = codeBase(c)
	}
	return string(buf)
}

// Hash returns a deterministic 64-bit hash of the packed sequence.
// Identical across processes and runs, which the probing protocol relies on.
func (k Kmer) Hash() uint64 {
	return xxhash.Sum64(k.packed[:])
}

func baseCode(b byte) (byte, bool) {
	switch b {
	case 'A':
		return 0, true
	case 'C':
		return 1, true
	case 'G':
		return 2, true
	case 'T':
		return 3, true
	}
	return 0, false
}

func codeBase(c byte) byte {
	return "ACGT"[c&0x3]
}

// Record is a sequence fragment plus its left/right extension symbols.
// Immutable once written into the table; comparable value type.
type Record struct {
	Kmer  Kmer
	Left  byte
	Right byte
}

// NewRecord builds a record from an ACGT sequence and its extension symbols.
// Extensions must be one of A, C, G, T or ExtNone.
func NewRecord(seq string, left, right byte) (Record, error) {
	k, err := Pack(seq)
	if err != nil {
		return Record{}, err
	}
	if !validExt(left) {
		return Record{}, fmt.Errorf("kmer: invalid left extension %q", left)
	}
	if !validExt(right) {
		return Record{}, fmt.Errorf("kmer: invalid right extension %q", right)
	}
	return Record{Kmer: k, Left: left, Right: right}, nil
}

func validExt(b byte) bool {
	if b == ExtNone {
		return true
	}
	_, ok := baseCode(b)
	return ok
}

// IsStart reports whether the fragment has no left extension.
func (r Record) IsStart() bool { return r.Left == ExtNone }

// IsEnd reports whether the fragment has no right extension.
func (r Record) IsEnd() bool { return r.Right == ExtNone }

// NextSeq returns the sequence one base to the right: the current sequence
// shifted left by one with the right extension appended. Only meaningful when
// the fragment is not an end fragment.
func (r Record) NextSeq() string {
	return r.Kmer.String()[1:] + string(r.Right)
}

// AppendTo appends the fixed-size binary encoding of the record to buf.
func (r Record) AppendTo(buf []byte) []byte {
	buf = append(buf, r.Kmer.packed[:]...)
	return append(buf, r.Left, r.Right)
}

// DecodeRecord decodes a record from exactly RecordSize bytes.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("kmer: encoded record is %d bytes, want %d", len(buf), RecordSize)
	}
	var r Record
	copy(r.Kmer.packed[:], buf[:PackedLen])
	r.Left = buf[PackedLen]
	r.Right = buf[PackedLen+1]
	return r, nil
}
