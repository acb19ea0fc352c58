// Package convert normalizes fetched content toward the canonical PDF
// representation.
//
// Converters are dispatched by normalized mimetype. Formats the registry does
// not know hit a default converter, which either passes bytes through or
// discards them depending on deployment policy; a nil result always means
// "no usable content", never an error. Converters that need an external
// rendering tool shell out through a scoped temp directory (see tool.go).
package convert

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrConversionFailed marks an external tool failure or unusable input.
// The owning document stops at this stage; other documents are unaffected.
var ErrConversionFailed = errors.New("convert: conversion failed")

// Options carry per-call context a converter may use.
type Options struct {
	// BaseURL roots relative links when rendering HTML.
	BaseURL string
	// MimeType is the normalized mimetype, filled in by the registry.
	MimeType string
}

// Option adjusts one Convert call.
type Option func(*Options)

// WithBaseURL sets the base for resolving relative links in HTML content.
func WithBaseURL(u string) Option {
	return func(o *Options) { o.BaseURL = u }
}

// Converter turns content of one mimetype into the canonical form.
type Converter interface {
	Convert(ctx context.Context, content []byte, opts Options) ([]byte, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(ctx context.Context, content []byte, opts Options) ([]byte, error)

// Convert implements Converter.
func (f ConverterFunc) Convert(ctx context.Context, content []byte, opts Options) ([]byte, error) {
	return f(ctx, content, opts)
}

// Config configures the registry and its subprocess converters.
type Config struct {
	// HTMLTool renders HTML to PDF. Default: wkhtmltopdf.
	HTMLTool     string
	HTMLToolArgs []string
	// OfficeTool renders office formats to PDF. Default: soffice.
	OfficeTool     string
	OfficeToolArgs []string
	// DiscardUnknown makes the default converter drop content instead of
	// passing it through.
	DiscardUnknown bool
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.HTMLTool == "" {
		c.HTMLTool = "wkhtmltopdf"
	}
	if len(c.HTMLToolArgs) == 0 {
		c.HTMLToolArgs = []string{"--quiet", "{input}", "{output}"}
	}
	if c.OfficeTool == "" {
		c.OfficeTool = "soffice"
	}
	if len(c.OfficeToolArgs) == 0 {
		c.OfficeToolArgs = []string{"--headless", "--convert-to", "pdf", "--outdir", "{dir}", "{input}"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// officeMimeTypes are the formats handed to the office rendering tool.
var officeMimeTypes = []string{
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/rtf",
}

// Registry maps normalized mimetypes to converters.
type Registry struct {
	converters map[string]Converter
	fallback   Converter
	logger     *slog.Logger
}

// NewRegistry builds a registry with the standard converters installed:
// PDF pass-through (validated), HTML and office formats via external tools,
// plain text wrapped as-is.
func NewRegistry(cfg Config) *Registry {
	cfg.defaults()
	r := &Registry{
		converters: make(map[string]Converter),
		logger:     cfg.Logger,
	}
	if cfg.DiscardUnknown {
		r.fallback = ConverterFunc(discard)
	} else {
		r.fallback = ConverterFunc(passThrough)
	}

	r.Register("application/pdf", &pdfConverter{})
	html := &htmlConverter{tool: cfg.HTMLTool, args: cfg.HTMLToolArgs, logger: cfg.Logger}
	r.Register("text/html", html)
	r.Register("application/xhtml+xml", html)
	office := &officeConverter{tool: cfg.OfficeTool, args: cfg.OfficeToolArgs, logger: cfg.Logger}
	for _, mt := range officeMimeTypes {
		r.Register(mt, office)
	}
	r.Register("text/plain", ConverterFunc(passThrough))
	return r
}

// Register installs (or replaces) the converter for a mimetype.
func (r *Registry) Register(mimeType string, c Converter) {
	r.converters[NormalizeMime(mimeType)] = c
}

// Convert dispatches content by mimetype. A nil result with nil error means
// the content was discarded and the document should be recorded as skipped.
func (r *Registry) Convert(ctx context.Context, content []byte, mimeType string, opts ...Option) ([]byte, error) {
	if len(content) == 0 {
		return nil, nil
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	mt := NormalizeMime(mimeType)
	o.MimeType = mt
	conv, ok := r.converters[mt]
	if !ok {
		r.logger.Debug("convert: no converter registered, using default", "mimetype", mt)
		conv = r.fallback
	}
	return conv.Convert(ctx, content, o)
}

// NormalizeMime strips parameters and lowercases a Content-Type value:
// "Text/HTML; charset=utf-8" becomes "text/html".
func NormalizeMime(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func passThrough(_ context.Context, content []byte, _ Options) ([]byte, error) {
	return content, nil
}

func discard(_ context.Context, _ []byte, _ Options) ([]byte, error) {
	return nil, nil
}
