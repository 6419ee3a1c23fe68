package payload

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBuild = `{"archetype":"Tanker","primary":"Fire","secondary":"Ice","powers":[1,2,3]}`

func TestRoundTrip(t *testing.T) {
	encoded, err := CompressAndEncode([]byte(sampleBuild))
	require.NoError(t, err)

	got, err := NewCodec(0).DecodeAndDecompress(encoded)
	require.NoError(t, err)
	assert.Equal(t, sampleBuild, string(got))
}

func TestDecode_URLSafeAlphabet(t *testing.T) {
	encoded, err := CompressAndEncode(bytes.Repeat([]byte{0xfb, 0xff, 0xfe}, 64))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	urlSafe := base64.RawURLEncoding.EncodeToString(raw)

	got, err := NewCodec(0).DecodeAndDecompress(urlSafe)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xfb, 0xff, 0xfe}, 64), got)
}

func TestDecode_Gzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(sampleBuild))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := NewCodec(0).DecodeAndDecompress(base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, sampleBuild, string(got))
}

func TestDecode_RawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleBuild))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := NewCodec(0).DecodeAndDecompress(base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, sampleBuild, string(got))
}

func TestDecode_Corrupt(t *testing.T) {
	valid, err := CompressAndEncode([]byte(sampleBuild))
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(valid)

	tests := []struct {
		name string
		in   string
	}{
		{"пустая строка", ""},
		{"пробелы", "   "},
		{"не base64", "%%%not-base64%%%"},
		{"не сжатые данные", base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff, 0xff})},
		{"обрезанный поток", base64.StdEncoding.EncodeToString(raw[:len(raw)/2])},
	}

	codec := NewCodec(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.DecodeAndDecompress(tt.in)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDecode_SizeLimit(t *testing.T) {
	encoded, err := CompressAndEncode([]byte(strings.Repeat("a", 4096)))
	require.NoError(t, err)

	_, err = NewCodec(1024).DecodeAndDecompress(encoded)
	require.ErrorIs(t, err, ErrCorrupt)

	got, err := NewCodec(4096).DecodeAndDecompress(encoded)
	require.NoError(t, err)
	assert.Len(t, got, 4096)
}

func TestNewCodec_Default(t *testing.T) {
	assert.Equal(t, DefaultMaxDecodedBytes, NewCodec(0).MaxDecodedBytes())
	assert.Equal(t, DefaultMaxDecodedBytes, NewCodec(-5).MaxDecodedBytes())
	assert.Equal(t, int64(10), NewCodec(10).MaxDecodedBytes())
}
