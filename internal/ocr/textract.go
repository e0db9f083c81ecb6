package ocr

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// TextractAPI is the subset of *textract.Client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type Textract struct {
	api TextractAPI
}

func NewTextract(api TextractAPI) *Textract { return &Textract{api: api} }

func NewTextractFromConfig(cfg aws.Config) *Textract { return NewTextract(textract.NewFromConfig(cfg)) }

func (t *Textract) detect(ctx context.Context, doc *types.Document) (Result, error) {
	out, err := t.api.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{Document: doc})
	if err != nil {
		return Result{}, fmt.Errorf("ocr: detect text: %w", err)
	}
	return summarize(out.Blocks), nil
}

func (t *Textract) ExtractImage(ctx context.Context, image []byte) (Result, error) {
	return t.detect(ctx, &types.Document{Bytes: image})
}

// ExtractObject reads the image straight from S3 without downloading it.
func (t *Textract) ExtractObject(ctx context.Context, bucket, key string) (Result, error) {
	return t.detect(ctx, &types.Document{S3Object: &types.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)}})
}

func (t *Textract) Analyze(ctx context.Context, image []byte) (Analysis, error) {
	out, err := t.api.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: image},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("ocr: analyze document: %w", err)
	}
	return analyze(out.Blocks), nil
}
