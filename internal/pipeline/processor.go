package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/twoframe/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUpstreamFetch     = errors.New("upstream fetch failed")
	ErrBodyTooLarge      = errors.New("response body exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecode            = errors.New("decode image")
	ErrEncode            = errors.New("encode gif")
)

// Error kinds, used as metric and log labels.
const (
	KindMissingParameter  = "missing_parameter"
	KindUpstreamFetch     = "upstream_fetch"
	KindUnsupportedFormat = "unsupported_format"
	KindDecode            = "decode"
	KindEncode            = "encode"
	KindCanceled          = "canceled"
	KindInternal          = "internal"
)

// Kind classifies an error returned by Convert.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrMissingParameter):
		return KindMissingParameter
	case errors.Is(err, ErrUpstreamFetch):
		return KindUpstreamFetch
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrEncode):
		return KindEncode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type Decoder interface {
	Decode(ctx context.Context, data []byte) (img *image.NRGBA, format string, err error)
}

type Assembler interface {
	Assemble(img *image.NRGBA) ([]byte, error)
}

type Result struct {
	GIF         []byte
	Format      string
	Width       int
	Height      int
	SourceBytes int
}

type Processor struct {
	fetcher   Fetcher
	decoder   Decoder
	assembler Assembler
	tracer    trace.Tracer
}

func NewProcessor(fetcher Fetcher, limits DecodeLimits, frameDelay int) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}

	decoder, err := newDecoder(limits)
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	return &Processor{
		fetcher:   fetcher,
		decoder:   decoder,
		assembler: TwoFrameAssembler{FrameDelay: frameDelay},
		tracer:    otel.Tracer("twoframe/pipeline"),
	}, nil
}

// Convert runs normalize, fetch, decode and assemble in order. The first failing
// stage ends the request; nothing partial is returned.
func (p *Processor) Convert(ctx context.Context, req domain.ConvertRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	target := req.EffectiveURL()

	ctx, span := p.tracer.Start(ctx, "pipeline.convert")
	span.SetAttributes(attribute.String("convert.url", target))
	defer span.End()

	result, err := p.convert(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("image.format", result.Format),
		attribute.Int("image.width", result.Width),
		attribute.Int("image.height", result.Height),
		attribute.Int("gif.bytes", len(result.GIF)),
	)
	span.SetStatus(codes.Ok, "converted")
	return result, nil
}

func (p *Processor) convert(ctx context.Context, target string) (Result, error) {
	fetchCtx, fetchSpan := p.tracer.Start(ctx, "pipeline.fetch")
	source, err := p.fetcher.Fetch(fetchCtx, target)
	fetchSpan.SetAttributes(attribute.Int("fetch.bytes", len(source)))
	fetchSpan.End()
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	decodeCtx, decodeSpan := p.tracer.Start(ctx, "pipeline.decode")
	img, format, err := p.decoder.Decode(decodeCtx, source)
	decodeSpan.End()
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	_, assembleSpan := p.tracer.Start(ctx, "pipeline.assemble")
	data, err := p.assembler.Assemble(img)
	assembleSpan.End()
	if err != nil {
		return Result{}, fmt.Errorf("assemble stage: %w", err)
	}

	bounds := img.Bounds()
	return Result{
		GIF:         data,
		Format:      format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		SourceBytes: len(source),
	}, nil
}
