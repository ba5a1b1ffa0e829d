package common

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	assert := assert.New(t)

	uri, err := ParseEndpoint("127.0.0.1:11434")
	require.Nil(t, err)
	assert.Equal("http://127.0.0.1:11434", uri.String())

	uri, err = ParseEndpoint(" https://worker.example.com/ollama ")
	require.Nil(t, err)
	assert.Equal("https", uri.Scheme)
	assert.Equal("/ollama", uri.Path)

	_, err = ParseEndpoint("")
	assert.Equal(ErrEmptyAddress, err)

	_, err = ParseEndpoint("http://[::1")
	assert.Error(err)
}

func TestJoinURL(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("http://a/api/tags", JoinURL("http://a", "api/tags"))
	assert.Equal("http://a/api/tags", JoinURL("http://a/", "api/tags"))
}

func TestReadAtMost(t *testing.T) {
	assert := assert.New(t)
	b, err := ReadAtMost(bytes.NewReader([]byte("hello")), 5)
	assert.Nil(err)
	assert.Equal("hello", string(b))

	b, err = ReadAtMost(bytes.NewReader([]byte("hello world")), 5)
	assert.Error(err)
	assert.Equal("hello", string(b))
}

func TestFixedToFloat(t *testing.T) {
	assert := assert.New(t)
	bps := big.NewInt(10000)
	assert.Equal(0.95, FixedToFloat(big.NewInt(9500), bps))
	assert.Equal(0.0, FixedToFloat(nil, bps))
	assert.Equal(0.0, FixedToFloat(big.NewInt(-1), bps))
	assert.Equal(0.0, FixedToFloat(big.NewInt(1), big.NewInt(0)))

	wei, ok := new(big.Int).SetString("2500000000000000000", 10)
	require.True(t, ok)
	assert.Equal(2.5, FixedToFloat(wei, big.NewInt(1e18)))
}

func TestParseBigInt(t *testing.T) {
	n, err := ParseBigInt("1000000000000000000000")
	require.Nil(t, err)
	assert.Equal(t, "1000000000000000000000", n.String())

	_, err = ParseBigInt("nope")
	assert.Equal(t, ErrParseBigInt, err)
}

func TestToInt64(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(int64(0), ToInt64(nil))
	assert.Equal(int64(42), ToInt64(big.NewInt(42)))
	huge, _ := new(big.Int).SetString("100000000000000000000000", 10)
	assert.Equal(int64(9223372036854775807), ToInt64(huge))
}
