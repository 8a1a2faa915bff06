package util

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"

	"github.com/pierrec/lz4/v4"
	snappy "github.com/segmentio/kafka-go/compress/snappy/go-xerial-snappy"
)

// payloadCodec compresses frame payloads written through a dispatcher.
type payloadCodec struct {
	encode func([]byte) ([]byte, error)
	decode func([]byte) ([]byte, error)
}

var codecs = map[string]payloadCodec{
	"none":   {encode: identity, decode: identity},
	"gzip":   {encode: gzipEncode, decode: gzipDecode},
	"snappy": {encode: func(b []byte) ([]byte, error) { return snappy.Encode(b), nil }, decode: snappy.Decode},
	"lz4":    {encode: lz4Encode, decode: lz4Decode},
}

func identity(b []byte) ([]byte, error) { return b, nil }

func lookupCodec(name string) (payloadCodec, error) {
	if name == "" {
		name = "none"
	}
	c, ok := codecs[name]
	if !ok {
		return payloadCodec{}, fmt.Errorf("unsupported compression type: %s", name)
	}
	return c, nil
}

// Codecs lists the supported compression names.
func Codecs() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidCodec reports whether name is a supported compression type.
func ValidCodec(name string) bool {
	_, err := lookupCodec(name)
	return err == nil
}

// CompressPayload compresses a frame payload with the named codec.
func CompressPayload(data []byte, compressionType string) ([]byte, error) {
	c, err := lookupCodec(compressionType)
	if err != nil {
		return nil, err
	}
	return c.encode(data)
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(data []byte, compressionType string) ([]byte, error) {
	c, err := lookupCodec(compressionType)
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

func gzipEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := gr.Close(); err != nil {
			Error("failed to close gzip reader: %v", err)
		}
	}()
	return io.ReadAll(gr)
}

func lz4Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decode(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
