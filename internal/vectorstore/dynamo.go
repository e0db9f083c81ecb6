package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"hanjang/internal/ddb"
)

// Dynamo keeps vectors as NOTE#<id> / VECTOR#<vectorId> items in the shared
// table. It has no secondary index over vectors, so searches must name the
// notes to scan.
type Dynamo struct {
	api   ddb.API
	table string
}

func NewDynamo(api ddb.API, table string) *Dynamo { return &Dynamo{api: api, table: table} }

type vectorItem struct {
	PK         string    `dynamodbav:"PK"`
	SK         string    `dynamodbav:"SK"`
	Type       string    `dynamodbav:"Type"`
	VectorID   string    `dynamodbav:"vectorId"`
	NoteID     string    `dynamodbav:"noteId"`
	UserID     string    `dynamodbav:"userId,omitempty"`
	ChunkIndex int       `dynamodbav:"chunkIndex"`
	Text       string    `dynamodbav:"text"`
	StartIndex int       `dynamodbav:"startIndex"`
	EndIndex   int       `dynamodbav:"endIndex"`
	Embedding  []float32 `dynamodbav:"embedding"`
	Model      string    `dynamodbav:"model,omitempty"`
	CreatedAt  string    `dynamodbav:"createdAt"`
}

func (d *Dynamo) Upsert(ctx context.Context, items []UpsertItem) error {
	now := ddb.Timestamp(time.Now())
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, it := range items {
		id := it.VectorID
		if id == "" {
			id = vectorID(it.NoteID, it.ChunkIndex, it.Model)
		}
		av, err := attributevalue.MarshalMap(vectorItem{
			PK: ddb.NotePK(it.NoteID), SK: ddb.VectorSK(id), Type: ddb.TypeVector,
			VectorID: id, NoteID: it.NoteID, UserID: it.UserID, ChunkIndex: it.ChunkIndex,
			Text: it.Text, StartIndex: it.StartIndex, EndIndex: it.EndIndex,
			Embedding: it.Vector, Model: it.Model, CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("marshal vector %s: %w", id, err)
		}
		reqs = append(reqs, ddb.PutRequest(av))
	}
	return ddb.BatchWrite(ctx, d.api, d.table, reqs)
}

func (d *Dynamo) noteItems(ctx context.Context, noteID string) ([]vectorItem, error) {
	raw, err := ddb.QueryAll(ctx, d.api, ddb.PrefixQuery(d.table, ddb.NotePK(noteID), "VECTOR#"))
	if err != nil {
		return nil, err
	}
	var out []vectorItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal vectors of %s: %w", noteID, err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// Search loads the vectors of every named note concurrently, then scores them
// in note order.
func (d *Dynamo) Search(ctx context.Context, query []float32, k int, f Filter) ([]Result, error) {
	if len(f.NoteIDs) == 0 {
		return nil, ErrNoteIDsRequired
	}
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	perNote := make([][]vectorItem, len(f.NoteIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range f.NoteIDs {
		g.Go(func() error {
			items, err := d.noteItems(gctx, id)
			perNote[i] = items
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	top := newTopK(k)
	for _, items := range perNote {
		for _, it := range items {
			if f.UserID != "" && it.UserID != "" && it.UserID != f.UserID {
				continue
			}
			top.offer(query, it.Embedding, Result{
				VectorID: it.VectorID, NoteID: it.NoteID, ChunkIndex: it.ChunkIndex,
				Text: it.Text, StartIndex: it.StartIndex, EndIndex: it.EndIndex,
			})
		}
	}
	return top.results(), nil
}

func (d *Dynamo) DeleteByNote(ctx context.Context, noteID string) (int, error) {
	items, err := d.noteItems(ctx, noteID)
	if err != nil {
		return 0, err
	}
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, it := range items {
		reqs = append(reqs, ddb.DeleteRequest(it.PK, it.SK))
	}
	if err := ddb.BatchWrite(ctx, d.api, d.table, reqs); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (d *Dynamo) NoteVectors(ctx context.Context, noteID string) ([]UpsertItem, error) {
	items, err := d.noteItems(ctx, noteID)
	if err != nil {
		return nil, err
	}
	out := make([]UpsertItem, 0, len(items))
	for _, it := range items {
		out = append(out, UpsertItem{
			VectorID: it.VectorID, NoteID: it.NoteID, UserID: it.UserID, ChunkIndex: it.ChunkIndex,
			Text: it.Text, StartIndex: it.StartIndex, EndIndex: it.EndIndex,
			Vector: it.Embedding, Model: it.Model,
		})
	}
	return out, nil
}

// Stats would need a full table scan.
func (d *Dynamo) Stats(ctx context.Context) (Stats, error) { return Stats{}, ErrStatsUnsupported }
