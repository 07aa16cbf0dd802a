package netmon_pb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// CompressorName is the grpc-encoding under which zstd is registered.
// Clients opt in with grpc.UseCompressor(CompressorName); the server answers
// in kind.
const CompressorName = "zstd"

// maxDecodedBytes bounds a single decompressed message.
const maxDecodedBytes = 16 << 20

// Shared across calls; zstd.Encoder and zstd.Decoder are safe for
// concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("netmon_pb: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		panic("netmon_pb: zstd decoder initialization failed: " + err.Error())
	}
	encoding.RegisterCompressor(zstdCompressor{})
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string {
	return CompressorName
}

// Compress buffers the message and encodes it in one frame on Close.
func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return &zstdWriter{dst: w}, nil
}

func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zstd read: %w", err)
	}
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return bytes.NewReader(out), nil
}

type zstdWriter struct {
	dst io.Writer
	buf bytes.Buffer
}

func (w *zstdWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *zstdWriter) Close() error {
	_, err := w.dst.Write(zstdEncoder.EncodeAll(w.buf.Bytes(), nil))
	return err
}
