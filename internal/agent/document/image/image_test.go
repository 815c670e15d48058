package image

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	// dark bar in the middle
	for y := h / 3; y < 2*h/3; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.Set(x, y, color.Black)
		}
	}
	return img
}

func TestUpscaleProcessor(t *testing.T) {
	out, err := NewUpscaleProcessor(200).Process(testImage(100, 50))
	require.NoError(t, err)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())

	same := testImage(300, 50)
	out, err = NewUpscaleProcessor(200).Process(same)
	require.NoError(t, err)
	assert.Same(t, same, out)
}

func TestAdaptiveThresholdBinarizes(t *testing.T) {
	out, err := NewAdaptiveThresholdProcessor(15, 10).Process(testImage(64, 48))
	require.NoError(t, err)

	gray, ok := out.(*image.Gray)
	require.True(t, ok)
	for _, px := range gray.Pix {
		assert.Contains(t, []uint8{0, 255}, px)
	}
	// edge of the bar is darker than its neighbourhood
	assert.Equal(t, uint8(0), gray.GrayAt(16, 16).Y)
	// plain background stays white
	assert.Equal(t, uint8(255), gray.GrayAt(2, 2).Y)
}

func TestPreprocessPipeline(t *testing.T) {
	out, err := Preprocess(testImage(120, 80), NewPipeline(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultPreprocessConfig().MinWidth, out.Bounds().Dx())

	_, err = Preprocess(nil, NewPipeline(nil))
	assert.Error(t, err)
}

type fakeTextract struct {
	blocks  []types.Block
	err     error
	analyze bool
}

func (f *fakeTextract) DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, _ ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &textract.DetectDocumentTextOutput{Blocks: f.blocks}, nil
}

func (f *fakeTextract) AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, _ ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.analyze = true
	if f.err != nil {
		return nil, f.err
	}
	return &textract.AnalyzeDocumentOutput{Blocks: f.blocks}, nil
}

func line(text string, conf float32) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text), Confidence: aws.Float32(conf)}
}

func TestTextractLinesFilteredByConfidence(t *testing.T) {
	api := &fakeTextract{blocks: []types.Block{
		line("INVOICE #42", 99),
		line("smudge", 12),
		line("Total 19.99", 95),
	}}
	p := NewTextractProcessorWithClient(api, &TextractConfig{MinConfidence: 80}, logger.NewNop())

	text, err := p.Extract(context.Background(), strings.NewReader("img"))
	require.NoError(t, err)
	assert.Equal(t, "INVOICE #42\nTotal 19.99", text)
	assert.False(t, api.analyze)
}

func TestTextractForms(t *testing.T) {
	word := func(id, text string) types.Block {
		return types.Block{Id: aws.String(id), BlockType: types.BlockTypeWord, Text: aws.String(text)}
	}
	api := &fakeTextract{blocks: []types.Block{
		line("ACME Corp", 99),
		{
			Id:          aws.String("k"),
			BlockType:   types.BlockTypeKeyValueSet,
			EntityTypes: []types.EntityType{types.EntityTypeKey},
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeChild, Ids: []string{"w1"}},
				{Type: types.RelationshipTypeValue, Ids: []string{"v"}},
			},
		},
		{
			Id:            aws.String("v"),
			BlockType:     types.BlockTypeKeyValueSet,
			EntityTypes:   []types.EntityType{types.EntityTypeValue},
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"w2", "w3"}}},
		},
		word("w1", "Date"),
		word("w2", "March"),
		word("w3", "2024"),
	}}
	p := NewTextractProcessorWithClient(api, &TextractConfig{EnableForms: true}, logger.NewNop())

	text, err := p.Extract(context.Background(), strings.NewReader("img"))
	require.NoError(t, err)
	assert.True(t, api.analyze)
	assert.Equal(t, "ACME Corp\nDate: March 2024", text)
}

func TestTextractError(t *testing.T) {
	api := &fakeTextract{err: errors.New("throttled")}
	p := NewTextractProcessorWithClient(api, &TextractConfig{}, logger.NewNop())

	_, err := p.Extract(context.Background(), strings.NewReader("img"))
	assert.ErrorContains(t, err, "throttled")
}

func TestCanProcess(t *testing.T) {
	p, err := NewProcessor(logger.NewNop(), nil)
	require.NoError(t, err)
	assert.True(t, p.CanProcess("image/png"))
	assert.False(t, p.CanProcess("application/pdf"))

	tp := NewTextractProcessorWithClient(&fakeTextract{}, &TextractConfig{}, logger.NewNop())
	assert.True(t, tp.CanProcess("application/pdf"))
}
