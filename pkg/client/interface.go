package client

import (
	"context"
)

// VisionClient sends one image and an instruction to a vision-language
// model and returns the raw text of its reply
type VisionClient interface {
	Query(ctx context.Context, model, prompt string, image []byte) (string, error)
}
