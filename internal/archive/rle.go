package archive

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/talgya/seir-lattice/internal/lattice"
)

// EncodeRLE encodes lattice codes as base64(varint pairs). The pairs are
// (code, run_len) repeated.
func EncodeRLE(cells []lattice.Code) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		c := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == c; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(c))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. limit caps the decoded length; a stream that
// would exceed it is rejected.
func DecodeRLE(b64 string, limit int) ([]lattice.Code, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []lattice.Code
	for i := 0; i < len(raw); {
		c, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if c > 0xFF {
			return nil, fmt.Errorf("cell code too large: %d", c)
		}
		if run > uint64(limit-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d cells", run, limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, lattice.Code(c))
		}
	}
	return out, nil
}
