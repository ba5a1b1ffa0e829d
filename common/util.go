package common

import (
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// glog verbosity levels
const (
	SHORT   = 4
	DEBUG   = 5
	VERBOSE = 6
)

// HTTPDialTimeout timeout used to establish an HTTP connection to a worker
var HTTPDialTimeout = 2 * time.Second

// MaxErrorBodySize caps how much of a failed worker response is read for error reporting
var MaxErrorBodySize = 4 * 1024

var (
	ErrParseBigInt  = fmt.Errorf("failed to parse big integer")
	ErrEmptyAddress = fmt.Errorf("empty endpoint address")
)

// ParseEndpoint parses a worker endpoint as announced on the ledger. Bare host:port
// values are assumed to be plain http.
func ParseEndpoint(addr string) (*url.URL, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	if !strings.HasPrefix(addr, "http") {
		addr = "http://" + addr
	}
	uri, err := url.ParseRequestURI(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse worker endpoint %q", addr)
	}
	return uri, nil
}

func JoinURL(url, path string) string {
	if !strings.HasSuffix(url, "/") {
		return url + "/" + path
	}
	return url + path
}

// Read at most n bytes from an io.Reader
func ReadAtMost(r io.Reader, n int) ([]byte, error) {
	// Reading one extra byte to check if input Reader
	// had more than n bytes
	limitedReader := io.LimitReader(r, int64(n)+1)
	b, err := io.ReadAll(limitedReader)
	if err == nil && len(b) > n {
		return b[:n], errors.New("input bigger than max buffer size")
	}
	return b, err
}

func ParseBigInt(num string) (*big.Int, error) {
	bigNum, ok := new(big.Int).SetString(num, 10)
	if !ok {
		return nil, ErrParseBigInt
	}
	return bigNum, nil
}

// FixedToFloat converts an on-chain fixed point value with the given denominator
// into a float64. Nil and negative inputs map to zero.
func FixedToFloat(val *big.Int, denom *big.Int) float64 {
	if val == nil || val.Sign() <= 0 || denom == nil || denom.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(val, denom).Float64()
	return f
}

func ToInt64(val *big.Int) int64 {
	if val == nil {
		return 0
	}
	if !val.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return val.Int64()
}
