package image

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

// TextractAPI is the part of the textract client the processor calls.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
	// EnableForms appends key/value pairs found by form analysis.
	EnableForms bool
}

// TextractProcessor sends images and single-page PDFs to AWS Textract.
type TextractProcessor struct {
	client TextractAPI
	logger logger.Logger
	config *TextractConfig
}

func NewTextractProcessor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractProcessor, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewTextractProcessorWithClient(client, cfg, log), nil
}

// NewTextractProcessorWithClient uses an existing client.
func NewTextractProcessorWithClient(client TextractAPI, cfg *TextractConfig, log logger.Logger) *TextractProcessor {
	return &TextractProcessor{
		client: client,
		logger: log.Named("textract"),
		config: cfg,
	}
}

func (p *TextractProcessor) CanProcess(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/png", "image/tiff", "application/pdf":
		return true
	default:
		return false
	}
}

func (p *TextractProcessor) Extract(ctx context.Context, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	doc := &types.Document{Bytes: data}

	var blocks []types.Block
	if p.config.EnableForms {
		out, err := p.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
			Document:     doc,
			FeatureTypes: []types.FeatureType{types.FeatureTypeForms},
		})
		if err != nil {
			p.logger.Error("Failed to analyze document", logger.Error(err))
			return "", fmt.Errorf("failed to analyze document: %w", err)
		}
		blocks = out.Blocks
	} else {
		out, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{Document: doc})
		if err != nil {
			p.logger.Error("Failed to detect document text", logger.Error(err))
			return "", fmt.Errorf("failed to detect document text: %w", err)
		}
		blocks = out.Blocks
	}

	lines := p.lines(blocks)
	if p.config.EnableForms {
		for _, f := range formFields(blocks) {
			lines = append(lines, f.Key+": "+f.Value)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// lines keeps LINE blocks at or above the confidence floor.
func (p *TextractProcessor) lines(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < p.config.MinConfidence {
			continue
		}
		texts = append(texts, *block.Text)
	}
	return texts
}

type FormField struct {
	Key   string
	Value string
}

func formFields(blocks []types.Block) []FormField {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	var fields []FormField
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeKeyValueSet || len(block.EntityTypes) == 0 ||
			block.EntityTypes[0] != types.EntityTypeKey {
			continue
		}
		key := childText(block, byID)
		var value string
		for _, rel := range block.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if v, ok := byID[id]; ok {
					value = childText(v, byID)
				}
			}
		}
		if key != "" && value != "" {
			fields = append(fields, FormField{Key: key, Value: value})
		}
	}
	return fields
}

func childText(block types.Block, byID map[string]types.Block) string {
	var words []string
	for _, rel := range block.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			if b, ok := byID[id]; ok && b.Text != nil {
				words = append(words, *b.Text)
			}
		}
	}
	return strings.Join(words, " ")
}

func (p *TextractProcessor) Close() error {
	return nil
}
