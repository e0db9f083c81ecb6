package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"hanjang/internal/ddb"
	"hanjang/internal/models"
)

// DynamoStore implements Store on the single-table layout described in
// package ddb. Item attributes reuse the JSON field names of the models.
type DynamoStore struct {
	api   ddb.API
	table string
	now   func() time.Time
}

func NewDynamo(api ddb.API, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table, now: time.Now}
}

func (s *DynamoStore) Close() error { return nil }

func jsonTags(o *attributevalue.EncoderOptions) { o.TagKey = "json" }
func jsonTagsDecode(o *attributevalue.DecoderOptions) { o.TagKey = "json" }

func (s *DynamoStore) encode(v any, keys map[string]string) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMapWithOptions(v, jsonTags)
	if err != nil {
		return nil, err
	}
	for k, val := range keys {
		item[k] = ddb.S(val)
	}
	return item, nil
}

func (s *DynamoStore) noteItems(n *models.Note) (list, meta map[string]types.AttributeValue, err error) {
	ts := ddb.Timestamp(n.CreatedAt)
	listSK := ddb.NoteListSK(ts, n.ID)
	list, err = s.encode(n, map[string]string{
		"PK": ddb.UserPK(n.UserID), "SK": listSK, "Type": ddb.TypeUserNote,
		"GSI1PK": ddb.SubjectPK(n.Subject), "GSI1SK": ts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal note: %w", err)
	}
	// list entries stay light
	delete(list, "chunks")
	if rv, ok := list["review"].(*types.AttributeValueMemberM); ok {
		delete(rv.Value, "reviewHistory")
	}
	meta, err = s.encode(n, map[string]string{
		"PK": ddb.NotePK(n.ID), "SK": ddb.MetadataSK, "Type": ddb.TypeNote, "listSK": listSK,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal note: %w", err)
	}
	return list, meta, nil
}

// putNote writes both note items in one transaction.
func (s *DynamoStore) putNote(ctx context.Context, n *models.Note) error {
	list, meta, err := s.noteItems(n)
	if err != nil {
		return err
	}
	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(s.table), Item: list}},
		{Put: &types.Put{TableName: aws.String(s.table), Item: meta}},
	}})
	if err != nil {
		return fmt.Errorf("ddb: put note %s: %w", n.ID, err)
	}
	return nil
}

func (s *DynamoStore) CreateNote(ctx context.Context, n *models.Note) error {
	if n.UserID == "" {
		return errors.New("store: note user id required")
	}
	prepareNote(n, s.now())
	return s.putNote(ctx, n)
}

func (s *DynamoStore) GetNote(ctx context.Context, id string) (*models.Note, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(s.table), Key: ddb.Key(ddb.NotePK(id), ddb.MetadataSK)})
	if err != nil {
		return nil, fmt.Errorf("ddb: get note %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var n models.Note
	if err := attributevalue.UnmarshalMapWithOptions(out.Item, &n, jsonTagsDecode); err != nil {
		return nil, fmt.Errorf("unmarshal note %s: %w", id, err)
	}
	return &n, nil
}

func (s *DynamoStore) UpdateNote(ctx context.Context, n *models.Note) error {
	old, err := s.GetNote(ctx, n.ID)
	if err != nil {
		return err
	}
	// keys derive from these; they never move
	n.UserID, n.CreatedAt = old.UserID, old.CreatedAt
	n.UpdatedAt = s.now()
	if n.Subject == "" {
		n.Subject = models.DefaultSubject
	}
	return s.putNote(ctx, n)
}

func (s *DynamoStore) mutate(ctx context.Context, id string, fn func(n *models.Note)) error {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return err
	}
	fn(n)
	n.UpdatedAt = s.now()
	return s.putNote(ctx, n)
}

func (s *DynamoStore) SetChunks(ctx context.Context, noteID string, chunks []models.NoteChunk) error {
	return s.mutate(ctx, noteID, func(n *models.Note) {
		n.Chunks = chunks
		n.IsIndexed = true
	})
}

func (s *DynamoStore) SaveReview(ctx context.Context, noteID string, st models.ReviewState) error {
	return s.mutate(ctx, noteID, func(n *models.Note) { n.Review = st })
}

// DeleteNote removes the list entry and everything under NOTE#<id>: the
// metadata item, vectors and question sets, plus the QUESTIONSET# aliases.
func (s *DynamoStore) DeleteNote(ctx context.Context, id string) error {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return err
	}
	items, err := ddb.QueryAll(ctx, s.api, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": ddb.S(ddb.NotePK(id))},
	})
	if err != nil {
		return err
	}
	reqs := []types.WriteRequest{ddb.DeleteRequest(ddb.UserPK(n.UserID), ddb.NoteListSK(ddb.Timestamp(n.CreatedAt), id))}
	for _, it := range items {
		var k struct {
			PK, SK        string
			Type          string
			QuestionSetID string `dynamodbav:"questionSetId"`
		}
		if err := attributevalue.UnmarshalMap(it, &k); err != nil {
			return err
		}
		reqs = append(reqs, ddb.DeleteRequest(k.PK, k.SK))
		if k.Type == ddb.TypeQuestion {
			reqs = append(reqs, ddb.DeleteRequest(ddb.QuestionSetPK(k.QuestionSetID), ddb.MetadataSK))
		}
	}
	return ddb.BatchWrite(ctx, s.api, s.table, reqs)
}

func (s *DynamoStore) ListNotes(ctx context.Context, q NoteQuery) (NotePage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	var in *dynamodb.QueryInput
	switch {
	case q.UserID == "":
		return NotePage{}, errors.New("store: user id required to list notes")
	case q.Subject != "":
		in = &dynamodb.QueryInput{
			TableName:                aws.String(s.table),
			IndexName:                aws.String(ddb.GSI1),
			KeyConditionExpression:   aws.String("GSI1PK = :pk"),
			FilterExpression:         aws.String("userId = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":  ddb.S(ddb.SubjectPK(q.Subject)),
				":uid": ddb.S(q.UserID),
			},
		}
	default:
		in = ddb.PrefixQuery(s.table, ddb.UserPK(q.UserID), "NOTE#")
	}
	in.ScanIndexForward = aws.Bool(false)
	items, err := ddb.QueryAll(ctx, s.api, in)
	if err != nil {
		return NotePage{}, err
	}
	lo, hi, pg := window(len(items), page, limit)
	out := NotePage{Notes: make([]*models.Note, 0, hi-lo), Pagination: pg}
	for _, it := range items[lo:hi] {
		var n models.Note
		if err := attributevalue.UnmarshalMapWithOptions(it, &n, jsonTagsDecode); err != nil {
			return NotePage{}, err
		}
		out.Notes = append(out.Notes, summarize(&n))
	}
	return out, nil
}

func (s *DynamoStore) CreateQuestionSet(ctx context.Context, qs *models.QuestionSet) error {
	prepareQuestionSet(qs, s.now())
	ts := ddb.Timestamp(qs.CreatedAt)
	byNote, err := s.encode(qs, map[string]string{
		"PK": ddb.NotePK(qs.NoteID), "SK": ddb.QuestionSK(ts, qs.ID), "Type": ddb.TypeQuestion,
		"GSI1PK": ddb.UserPK(qs.UserID), "GSI1SK": ddb.QuestionGSISK(ts),
	})
	if err != nil {
		return fmt.Errorf("marshal question set: %w", err)
	}
	byID, err := s.encode(qs, map[string]string{
		"PK": ddb.QuestionSetPK(qs.ID), "SK": ddb.MetadataSK, "Type": ddb.TypeQuestion, "noteSK": ddb.QuestionSK(ts, qs.ID),
	})
	if err != nil {
		return fmt.Errorf("marshal question set: %w", err)
	}
	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(s.table), Item: byNote}},
		{Put: &types.Put{TableName: aws.String(s.table), Item: byID}},
	}})
	if err != nil {
		return fmt.Errorf("ddb: put question set %s: %w", qs.ID, err)
	}
	return nil
}

func (s *DynamoStore) getQuestionItem(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(s.table), Key: ddb.Key(ddb.QuestionSetPK(id), ddb.MetadataSK)})
	if err != nil {
		return nil, fmt.Errorf("ddb: get question set %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

func (s *DynamoStore) GetQuestionSet(ctx context.Context, id string) (*models.QuestionSet, error) {
	item, err := s.getQuestionItem(ctx, id)
	if err != nil {
		return nil, err
	}
	var qs models.QuestionSet
	if err := attributevalue.UnmarshalMapWithOptions(item, &qs, jsonTagsDecode); err != nil {
		return nil, fmt.Errorf("unmarshal question set %s: %w", id, err)
	}
	return &qs, nil
}

func (s *DynamoStore) ListQuestionSets(ctx context.Context, q QuestionQuery) (QuestionPage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	var in *dynamodb.QueryInput
	switch {
	case q.NoteID != "":
		in = ddb.PrefixQuery(s.table, ddb.NotePK(q.NoteID), "QUESTION#")
		if q.UserID != "" {
			in.FilterExpression = aws.String("userId = :uid")
			in.ExpressionAttributeValues[":uid"] = ddb.S(q.UserID)
		}
	case q.UserID != "":
		in = &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(ddb.GSI1),
			KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     ddb.S(ddb.UserPK(q.UserID)),
				":prefix": ddb.S("QUESTION#"),
			},
		}
	default:
		return QuestionPage{}, errors.New("store: user or note id required to list question sets")
	}
	in.ScanIndexForward = aws.Bool(false)
	items, err := ddb.QueryAll(ctx, s.api, in)
	if err != nil {
		return QuestionPage{}, err
	}
	var all []*models.QuestionSet
	if err := attributevalue.UnmarshalListOfMapsWithOptions(items, &all, jsonTagsDecode); err != nil {
		return QuestionPage{}, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	lo, hi, pg := window(len(all), page, limit)
	return QuestionPage{QuestionSets: append([]*models.QuestionSet{}, all[lo:hi]...), Pagination: pg}, nil
}

func (s *DynamoStore) DeleteQuestionSet(ctx context.Context, id string) error {
	item, err := s.getQuestionItem(ctx, id)
	if err != nil {
		return err
	}
	var ref struct {
		NoteID string `dynamodbav:"noteId"`
		NoteSK string `dynamodbav:"noteSK"`
	}
	if err := attributevalue.UnmarshalMap(item, &ref); err != nil {
		return err
	}
	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{
		{Delete: &types.Delete{TableName: aws.String(s.table), Key: ddb.Key(ddb.NotePK(ref.NoteID), ref.NoteSK)}},
		{Delete: &types.Delete{TableName: aws.String(s.table), Key: ddb.Key(ddb.QuestionSetPK(id), ddb.MetadataSK)}},
	}})
	return err
}

// Stats counts the user's notes and question sets; it reads every list
// entry of the user.
func (s *DynamoStore) Stats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, errors.New("store: user id required for stats")
	}
	notes, err := AllNotes(ctx, s, userID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalNotes: len(notes)}
	for _, n := range notes {
		if n.IsIndexed {
			st.IndexedNotes++
		}
		if n.Review.Count > 0 {
			st.ReviewedNotes++
		}
	}
	sets, err := ddb.CountAll(ctx, s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(ddb.GSI1),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     ddb.S(ddb.UserPK(userID)),
			":prefix": ddb.S("QUESTION#"),
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count question sets: %w", err)
	}
	st.QuestionSets = sets
	return st, nil
}
