package codec

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// wireCases are rendered as "kind<TAB>input<TAB>hex" and compared against
// testdata/golden/wire.golden. To regenerate:
//
//	go test ./internal/codec -run TestWireGolden -update
var wireCases = []struct {
	kind  string
	input string
}{
	{"numeric", "0"},
	{"numeric", "1"},
	{"numeric", "-1"},
	{"numeric", "0.5"},
	{"numeric", "12345.678"},
	{"numeric", "-12.50"},
	{"numeric", "100000000"},
	{"numeric", "0.0001"},
	{"numeric", "3.14159265358979"},
	{"numeric", "-0.000000001"},
	{"timestamp", "2000-01-01T00:00:00.000Z"},
	{"timestamp", "2000-01-01T00:00:01.500Z"},
	{"timestamp", "1970-01-01T00:00:00.000Z"},
	{"timestamp", "2024-02-29T12:34:56.789Z"},
	{"timestamp", "max"},
	{"timestamp", "default"},
	{"blob_ref", "fs1:0123456789abcdef0123456789abcdef/42"},
	{"blob_ref", "fs1:ab/1099511627776"},
}

func encodeWireCase(t *testing.T, kind, input string) []byte {
	t.Helper()
	switch kind {
	case "numeric":
		b, err := EncodeNumeric(input)
		require.NoError(t, err)
		return b
	case "timestamp":
		var ts time.Time
		switch input {
		case "max":
			ts = MaxTime
		case "default":
			ts = DefaultTime
		default:
			var err error
			ts, err = time.Parse(time.RFC3339Nano, input)
			require.NoError(t, err)
		}
		b, err := EncodeTimestamp(ts)
		require.NoError(t, err)
		return b
	case "blob_ref":
		i := strings.LastIndexByte(input, '/')
		length, err := strconv.ParseInt(input[i+1:], 10, 64)
		require.NoError(t, err)
		b, err := EncodeBlobRef(BlobRef{ID: input[:i], Length: length})
		require.NoError(t, err)
		return b
	}
	t.Fatalf("unknown kind %q", kind)
	return nil
}

func TestWireGolden(t *testing.T) {
	var sb strings.Builder
	for _, c := range wireCases {
		b := encodeWireCase(t, c.kind, c.input)
		fmt.Fprintf(&sb, "%s\t%s\t%s\n", c.kind, c.input, hex.EncodeToString(b))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "wire", []byte(sb.String()))
}
