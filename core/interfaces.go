package core

import (
	"context"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageData.
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100; 0 = use encoder default
	Lossless bool // PNG best compression
}

// MetricsCollector receives observations from the pipeline and from result
// subscriptions.
type MetricsCollector interface {
	RecordProcessingTime(stage string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordError(stage string, category string)
	// RecordDelivery counts one terminal outcome of a subscription.
	RecordDelivery(flow string, status string)
	RecordBufferClone()
	RecordBufferRelease()
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// NopMetrics implements MetricsCollector without recording anything.
type NopMetrics struct{}

func (NopMetrics) RecordProcessingTime(string, time.Duration) {}
func (NopMetrics) RecordThroughput(int64)                     {}
func (NopMetrics) RecordError(string, string)                 {}
func (NopMetrics) RecordDelivery(string, string)              {}
func (NopMetrics) RecordBufferClone()                         {}
func (NopMetrics) RecordBufferRelease()                       {}
