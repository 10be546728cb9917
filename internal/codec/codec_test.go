package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptStringRoundTrip(t *testing.T) {
	s := "hello"
	require.Equal(t, &s, UnwrapOptString(OptString(&s)))
	require.Nil(t, UnwrapOptString(OptString(nil)))
}

func TestOptIntRoundTrip(t *testing.T) {
	n := int32(42)
	require.Equal(t, &n, UnwrapOptInt(OptInt(&n)))
	require.Nil(t, UnwrapOptInt(OptInt(nil)))
}

func TestOptBytesRoundTrip(t *testing.T) {
	b := []byte("payload")
	require.Equal(t, b, UnwrapOptBytes(OptBytes(b)))
	require.Nil(t, UnwrapOptBytes(OptBytes(nil)))
}

func TestArrayRoundTrip(t *testing.T) {
	ss := []string{"a", "b", "c"}
	require.Equal(t, ss, UnwrapStringArray(StringArray(ss)))

	ls := []int64{1, 2, 3}
	require.Equal(t, ls, UnwrapInt64Array(Int64Array(ls)))
}

const testSchema = `{
	"type": "record",
	"name": "Widget",
	"fields": [{"name": "value", "type": "long"}]
}`

func TestWriterReaderRoundTripAndDigest(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testSchema)
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, w.Append(map[string]interface{}{"value": i}))
	}
	digest := w.Digest()
	require.Len(t, digest, 32)

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var got []int64
	for {
		native, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, native["value"].(int64))
	}
	require.Equal(t, []int64{0, 1, 2, 3, 4}, got)
	require.Equal(t, digest, r.Digest())
}

func TestWriterReaderEmptyFile(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testSchema)
	require.NoError(t, err)
	digest := w.Digest()

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, ok, err := r.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, digest, r.Digest())
}
