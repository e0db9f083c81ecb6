// Package ocr turns note images into text through a document text
// extraction service.
package ocr

import (
	"context"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"golang.org/x/text/unicode/norm"
)

type Result struct {
	Text       string   `json:"text"`
	Lines      []string `json:"lines"`
	Confidence float64  `json:"confidence"` // 0..1
	BlockCount int      `json:"blockCount"`
}

type Analysis struct {
	Result
	Tables    [][][]string      `json:"tables"`
	KeyValues map[string]string `json:"keyValues"`
}

// Extractor reads text from an image given as bytes or as a stored object.
type Extractor interface {
	ExtractImage(ctx context.Context, image []byte) (Result, error)
	ExtractObject(ctx context.Context, bucket, key string) (Result, error)
	Analyze(ctx context.Context, image []byte) (Analysis, error)
}

// Disabled extracts nothing; notes get empty content.
type Disabled struct{}

func (Disabled) ExtractImage(ctx context.Context, image []byte) (Result, error) {
	return Result{Lines: []string{}}, nil
}
func (Disabled) ExtractObject(ctx context.Context, bucket, key string) (Result, error) {
	return Result{Lines: []string{}}, nil
}
func (Disabled) Analyze(ctx context.Context, image []byte) (Analysis, error) {
	return Analysis{Result: Result{Lines: []string{}}, Tables: [][][]string{}, KeyValues: map[string]string{}}, nil
}

func clean(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }

// summarize joins LINE blocks and averages their confidence.
func summarize(blocks []types.Block) Result {
	r := Result{Lines: []string{}, BlockCount: len(blocks)}
	var sum float64
	var n int
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeLine {
			continue
		}
		r.Lines = append(r.Lines, clean(aws.ToString(b.Text)))
		if b.Confidence != nil && *b.Confidence > 0 {
			sum += float64(*b.Confidence)
			n++
		}
	}
	r.Text = strings.Join(r.Lines, "\n")
	if n > 0 {
		r.Confidence = sum / float64(n) / 100
	}
	return r
}

// analyze adds tables and form fields; confidence averages every block
// that reports one.
func analyze(blocks []types.Block) Analysis {
	a := Analysis{Result: summarize(blocks)}
	var sum float64
	var n int
	for _, b := range blocks {
		if b.Confidence != nil && *b.Confidence > 0 {
			sum += float64(*b.Confidence)
			n++
		}
	}
	a.Confidence = 0
	if n > 0 {
		a.Confidence = sum / float64(n) / 100
	}
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		byID[aws.ToString(b.Id)] = b
	}
	a.Tables = tables(blocks, byID)
	a.KeyValues = keyValues(blocks, byID)
	return a
}

func related(b types.Block, rt types.RelationshipType) []string {
	var ids []string
	for _, r := range b.Relationships {
		if r.Type == rt {
			ids = append(ids, r.Ids...)
		}
	}
	return ids
}

// childText joins the WORD children of b; selected checkboxes read "[x]".
func childText(b types.Block, byID map[string]types.Block) string {
	var words []string
	for _, id := range related(b, types.RelationshipTypeChild) {
		c, ok := byID[id]
		if !ok {
			continue
		}
		switch c.BlockType {
		case types.BlockTypeWord:
			words = append(words, aws.ToString(c.Text))
		case types.BlockTypeSelectionElement:
			if c.SelectionStatus == types.SelectionStatusSelected {
				words = append(words, "[x]")
			}
		}
	}
	return clean(strings.Join(words, " "))
}

func tables(blocks []types.Block, byID map[string]types.Block) [][][]string {
	out := [][][]string{}
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeTable {
			continue
		}
		var cells []types.Block
		rows, cols := 0, 0
		for _, id := range related(b, types.RelationshipTypeChild) {
			c, ok := byID[id]
			if !ok || c.BlockType != types.BlockTypeCell {
				continue
			}
			cells = append(cells, c)
			rows = max(rows, int(aws.ToInt32(c.RowIndex)))
			cols = max(cols, int(aws.ToInt32(c.ColumnIndex)))
		}
		grid := make([][]string, rows)
		for i := range grid {
			grid[i] = make([]string, cols)
		}
		for _, c := range cells {
			r, col := int(aws.ToInt32(c.RowIndex))-1, int(aws.ToInt32(c.ColumnIndex))-1
			if r < 0 || col < 0 {
				continue
			}
			grid[r][col] = childText(c, byID)
		}
		out = append(out, grid)
	}
	return out
}

func keyValues(blocks []types.Block, byID map[string]types.Block) map[string]string {
	out := map[string]string{}
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeKeyValueSet || !slices.Contains(b.EntityTypes, types.EntityTypeKey) {
			continue
		}
		key := childText(b, byID)
		if key == "" {
			continue
		}
		var vals []string
		for _, id := range related(b, types.RelationshipTypeValue) {
			if v, ok := byID[id]; ok {
				if t := childText(v, byID); t != "" {
					vals = append(vals, t)
				}
			}
		}
		if _, seen := out[key]; !seen || out[key] == "" {
			out[key] = strings.Join(vals, " ")
		}
	}
	return out
}
