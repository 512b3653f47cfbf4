package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NumPy .npy format version 1.0, little-endian float32, C order.
var npyMagic = []byte("\x93NUMPY")

const (
	npyMajor     = 1
	npyMinor     = 0
	npyAlignment = 64
	npyPrefixLen = 10 // magic + version + uint16 header length
)

var (
	npyDescrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// writeNPY encodes a rows x dim float32 matrix.
func writeNPY(w io.Writer, rows [][]float32, dim int) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(rows), dim)
	total := npyPrefixLen + len(header) + 1
	if pad := total % npyAlignment; pad != 0 {
		header += strings.Repeat(" ", npyAlignment-pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	bw := bufio.NewWriter(w)
	bw.Write(npyMagic)
	bw.Write([]byte{npyMajor, npyMinor})
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	bw.Write(hlen[:])
	bw.WriteString(header)

	var buf [4]byte
	for i, row := range rows {
		if len(row) != dim {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), dim)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			bw.Write(buf[:])
		}
	}
	return bw.Flush()
}

// readNPY decodes a float32 matrix and returns its rows and column count.
// A one-dimensional array is reshaped to rows of wantDim.
func readNPY(r io.Reader, wantDim int) ([][]float32, int, error) {
	br := bufio.NewReader(r)
	prefix := make([]byte, npyPrefixLen)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, 0, fmt.Errorf("read npy prefix: %w", err)
	}
	if !bytes.Equal(prefix[:6], npyMagic) {
		return nil, 0, errors.New("not an npy file")
	}
	if prefix[6] != npyMajor {
		return nil, 0, fmt.Errorf("unsupported npy version %d.%d", prefix[6], prefix[7])
	}
	header := make([]byte, binary.LittleEndian.Uint16(prefix[8:10]))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, 0, fmt.Errorf("read npy header: %w", err)
	}

	descr := npyDescrRe.FindSubmatch(header)
	if descr == nil || string(descr[1]) != "<f4" {
		return nil, 0, fmt.Errorf("unsupported npy dtype in header %q", header)
	}
	if fortran := npyFortranRe.FindSubmatch(header); fortran == nil || string(fortran[1]) != "False" {
		return nil, 0, errors.New("fortran-ordered npy arrays are not supported")
	}
	shapeMatch := npyShapeRe.FindSubmatch(header)
	if shapeMatch == nil {
		return nil, 0, errors.New("npy header has no shape")
	}
	shape, err := parseShape(string(shapeMatch[1]))
	if err != nil {
		return nil, 0, err
	}

	var nrows, ncols int
	switch len(shape) {
	case 1:
		if wantDim <= 0 || shape[0]%wantDim != 0 {
			return nil, 0, fmt.Errorf("cannot reshape %d values into rows of %d", shape[0], wantDim)
		}
		nrows, ncols = shape[0]/wantDim, wantDim
	case 2:
		nrows, ncols = shape[0], shape[1]
	default:
		return nil, 0, fmt.Errorf("unsupported npy rank %d", len(shape))
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, 0, fmt.Errorf("read npy data: %w", err)
	}
	if ncols == 0 {
		if nrows != 0 {
			return nil, 0, fmt.Errorf("npy shape (%d, 0) has no columns", nrows)
		}
		return nil, 0, nil
	}
	rowBytes := 4 * ncols
	if rowBytes/4 != ncols || nrows > len(body)/rowBytes || nrows*rowBytes != len(body) {
		return nil, 0, fmt.Errorf("npy shape (%d, %d) does not match %d data bytes", nrows, ncols, len(body))
	}

	rows := make([][]float32, 0, len(body)/rowBytes)
	for off := 0; off < len(body); off += rowBytes {
		row := make([]float32, ncols)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off+4*j:]))
		}
		rows = append(rows, row)
	}
	return rows, ncols, nil
}

func parseShape(s string) ([]int, error) {
	var dims []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid npy shape %q", s)
		}
		dims = append(dims, n)
	}
	return dims, nil
}
