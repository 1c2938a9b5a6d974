package kmer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSeq = "ACGTACGTACGTACGTACG" // Length bases

func TestPackRoundTrip(t *testing.T) {
	k, err := Pack(testSeq)
	require.NoError(t, err)
	require.Equal(t, testSeq, k.String())
}

func TestPackRejectsWrongLength(t *testing.T) {
	_, err := Pack("ACGT")
	require.Error(t, err)

	_, err = Pack(testSeq + "A")
	require.Error(t, err)
}

func TestPackRejectsInvalidBase(t *testing.T) {
	bad := "N" + testSeq[1:]
	_, err := Pack(bad)
	require.Error(t, err)
}

func TestKmerComparable(t *testing.T) {
	a, err := Pack(testSeq)
	require.NoError(t, err)
	b, err := Pack(testSeq)
	require.NoError(t, err)
	c, err := Pack(strings.Repeat("T", Length))
	require.NoError(t, err)

	require.True(t, a == b)
	require.False(t, a == c)
}

func TestHashDeterministic(t *testing.T) {
	a, err := Pack(testSeq)
	require.NoError(t, err)
	b, err := Pack(testSeq)
	require.NoError(t, err)
	require.Equal(t, a.Hash(), b.Hash())

	c, err := Pack(strings.Repeat("G", Length))
	require.NoError(t, err)
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestNewRecordValidatesExtensions(t *testing.T) {
	_, err := NewRecord(testSeq, 'A', 'T')
	require.NoError(t, err)

	_, err = NewRecord(testSeq, ExtNone, ExtNone)
	require.NoError(t, err)

	_, err = NewRecord(testSeq, 'X', 'T')
	require.Error(t, err)

	_, err = NewRecord(testSeq, 'A', 'Z')
	require.Error(t, err)
}

func TestRecordStartEnd(t *testing.T) {
	r, err := NewRecord(testSeq, ExtNone, 'A')
	require.NoError(t, err)
	require.True(t, r.IsStart())
	require.False(t, r.IsEnd())

	r, err = NewRecord(testSeq, 'C', ExtNone)
	require.NoError(t, err)
	require.False(t, r.IsStart())
	require.True(t, r.IsEnd())
}

func TestNextSeq(t *testing.T) {
	r, err := NewRecord(testSeq, ExtNone, 'T')
	require.NoError(t, err)
	require.Equal(t, testSeq[1:]+"T", r.NextSeq())
}

func TestRecordEncodeDecode(t *testing.T) {
	r, err := NewRecord(testSeq, 'G', ExtNone)
	require.NoError(t, err)

	buf := r.AppendTo(nil)
	require.Len(t, buf, RecordSize)

	got, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, r, got)

	_, err = DecodeRecord(buf[:RecordSize-1])
	require.Error(t, err)
}
