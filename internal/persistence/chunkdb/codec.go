package chunkdb

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/space"
	"voxelstream.ai/internal/sim/tuning"
)

// Header is the first line of every chunk blob, readable without decoding the payload.
type Header struct {
	Version int         `json:"version"`
	Size    int         `json:"size"`
	Coord   space.Vec3i `json:"coord"`
	Bytes   int         `json:"bytes"`
	Digest  string      `json:"digest"`
}

func headerFor(rec chunk.Record) Header {
	sum := rec.Digest()
	return Header{
		Version: rec.Version,
		Size:    rec.Size,
		Coord:   rec.Coord,
		Bytes:   len(rec.Data),
		Digest:  hex.EncodeToString(sum[:]),
	}
}

func compressor(w io.Writer, format string) (io.WriteCloser, error) {
	switch format {
	case tuning.FormatZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case tuning.FormatLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown chunk format %q", format)
	}
}

func decompressor(r io.Reader, format string) (io.Reader, func(), error) {
	switch format {
	case tuning.FormatZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case tuning.FormatLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown chunk format %q", format)
	}
}

// Encode writes header line + gob record through the compressor for format.
func Encode(w io.Writer, format string, rec chunk.Record) error {
	cw, err := compressor(w, format)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(cw)

	hb, _ := json.Marshal(headerFor(rec))
	if _, err := bw.Write(hb); err != nil {
		_ = cw.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = cw.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&rec); err != nil {
		_ = cw.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

func Decode(r io.Reader, format string) (Header, chunk.Record, error) {
	var (
		h   Header
		rec chunk.Record
	)
	dr, done, err := decompressor(r, format)
	if err != nil {
		return h, rec, err
	}
	defer done()

	br := bufio.NewReader(dr)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, rec, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, rec, fmt.Errorf("decode header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&rec); err != nil {
		return h, rec, fmt.Errorf("gob decode: %w", err)
	}
	if rec.Size != h.Size || rec.Coord != h.Coord {
		return h, rec, fmt.Errorf("header/record mismatch: %s/%d vs %s/%d", h.Coord, h.Size, rec.Coord, rec.Size)
	}
	return h, rec, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(r io.Reader, format string) (Header, error) {
	var h Header
	dr, done, err := decompressor(r, format)
	if err != nil {
		return h, err
	}
	defer done()
	line, err := bufio.NewReader(dr).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func EncodeBytes(format string, rec chunk.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, format, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeBytes(format string, b []byte) (Header, chunk.Record, error) {
	return Decode(bytes.NewReader(b), format)
}
