package convert

import (
	"context"
	"log/slog"
)

// extByMime picks the input file extension the office tool needs to detect
// the source format.
var extByMime = map[string]string{
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.oasis.opendocument.text":                                 ".odt",
	"application/vnd.ms-excel":                                                ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
	"application/rtf": ".rtf",
}

// officeConverter renders office documents to PDF through an external tool
// (soffice by default). The tool writes its result next to the input inside
// the scoped temp directory.
type officeConverter struct {
	tool   string
	args   []string
	logger *slog.Logger
}

func (c *officeConverter) Convert(ctx context.Context, content []byte, opts Options) ([]byte, error) {
	ext, ok := extByMime[opts.MimeType]
	if !ok {
		ext = ".docx"
	}
	return runTool(ctx, c.logger, c.tool, c.args, content, ext, ".pdf")
}
