package convert

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfConverter passes PDF bytes through unchanged after a structural
// validation pass. Sources occasionally serve truncated or mislabelled
// PDFs; catching them here keeps garbage out of the content store.
type pdfConverter struct{}

func (c *pdfConverter) Convert(_ context.Context, content []byte, _ Options) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(content), conf); err != nil {
		return nil, fmt.Errorf("%w: invalid pdf: %v", ErrConversionFailed, err)
	}
	return content, nil
}
