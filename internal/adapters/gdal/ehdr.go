package gdal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kalisio/k2/internal/core/domain"
)

// Header is the subset of an ESRI .hdr sidecar needed to decode a .bil row.
type Header struct {
	NRows     int
	NCols     int
	NBits     int
	PixelType string // FLOAT, SIGNEDINT or UNSIGNEDINT
	ByteOrder binary.ByteOrder
	XDim      float64
	NoData    float64
	HasNoData bool
}

// ParseHeader reads "KEY value" lines of an ESRI BIL header.
func ParseHeader(r io.Reader) (*Header, error) {
	h := &Header{NRows: 1, NBits: 8, PixelType: "UNSIGNEDINT", ByteOrder: binary.LittleEndian}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		key, val := strings.ToUpper(fields[0]), fields[1]

		var err error
		switch key {
		case "NROWS":
			h.NRows, err = strconv.Atoi(val)
		case "NCOLS":
			h.NCols, err = strconv.Atoi(val)
		case "NBITS":
			h.NBits, err = strconv.Atoi(val)
		case "PIXELTYPE":
			h.PixelType = strings.ToUpper(val)
		case "BYTEORDER":
			switch strings.ToUpper(val) {
			case "M", "MSBFIRST":
				h.ByteOrder = binary.BigEndian
			default:
				h.ByteOrder = binary.LittleEndian
			}
		case "XDIM", "CELLSIZE":
			h.XDim, err = strconv.ParseFloat(val, 64)
		case "NODATA", "NODATA_VALUE":
			h.NoData, err = strconv.ParseFloat(val, 64)
			h.HasNoData = err == nil
		}
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if h.NCols <= 0 || h.NRows <= 0 {
		return nil, fmt.Errorf("header: invalid raster size %dx%d", h.NCols, h.NRows)
	}
	return h, nil
}

// decoder returns a function reading one pixel, and the pixel size in bytes.
func (h *Header) decoder() (func([]byte) float64, int, error) {
	bo := h.ByteOrder
	switch {
	case h.PixelType == "FLOAT" && h.NBits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }, 4, nil
	case h.PixelType == "FLOAT" && h.NBits == 64:
		return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }, 8, nil
	case h.PixelType == "SIGNEDINT" && h.NBits == 16:
		return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }, 2, nil
	case h.PixelType == "SIGNEDINT" && h.NBits == 32:
		return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }, 4, nil
	case h.NBits == 16:
		return func(b []byte) float64 { return float64(bo.Uint16(b)) }, 2, nil
	case h.NBits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, 1, nil
	}
	return nil, 0, fmt.Errorf("unsupported pixel type %s/%d bits", h.PixelType, h.NBits)
}

// ReadRow decodes the first row of a BIL band.
func ReadRow(r io.Reader, h *Header) ([]float64, error) {
	decode, size, err := h.decoder()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, h.NCols*size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read %d pixels: %w", h.NCols, err)
	}
	out := make([]float64, h.NCols)
	for i := range out {
		out[i] = decode(buf[i*size:])
	}
	return out, nil
}

// ReadRaster loads base.hdr and base.bil into a RasterResult.
func ReadRaster(base string) (*domain.RasterResult, error) {
	hf, err := os.Open(base + ".hdr")
	if err != nil {
		return nil, err
	}
	defer hf.Close()

	h, err := ParseHeader(hf)
	if err != nil {
		return nil, err
	}

	bf, err := os.Open(base + ".bil")
	if err != nil {
		return nil, err
	}
	defer bf.Close()

	values, err := ReadRow(bufio.NewReader(bf), h)
	if err != nil {
		return nil, err
	}
	return &domain.RasterResult{
		Values:       values,
		PixelSpacing: h.XDim,
		NoData:       h.NoData,
		HasNoData:    h.HasNoData,
	}, nil
}
