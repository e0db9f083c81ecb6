// Package ddb holds the single-table DynamoDB layout shared by the note store
// and the vector store, plus batching and paging helpers.
//
// Layout:
//
//	PK                 SK                          item
//	USER#<uid>         NOTE#<ts>#<noteId>          note list entry (GSI1: SUBJECT#<subject>, <ts>)
//	NOTE#<noteId>      METADATA                    canonical note
//	NOTE#<noteId>      VECTOR#<vectorId>           chunk embedding
//	NOTE#<noteId>      QUESTION#<ts>#<setId>       question set (GSI1: USER#<uid>, QUESTION#<ts>)
//	QUESTIONSET#<id>   METADATA                    question set by id
package ddb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of *dynamodb.Client used by hanjang.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const (
	GSI1          = "GSI1"
	MetadataSK    = "METADATA"
	TypeNote      = "NOTE"
	TypeUserNote  = "USER_NOTE"
	TypeVector    = "VECTOR"
	TypeQuestion  = "QUESTION_SET"
	batchMax      = 25
	batchAttempts = 5
)

func UserPK(userID string) string         { return "USER#" + userID }
func NotePK(noteID string) string         { return "NOTE#" + noteID }
func NoteListSK(ts, noteID string) string { return "NOTE#" + ts + "#" + noteID }
func VectorSK(vectorID string) string     { return "VECTOR#" + vectorID }
func QuestionSK(ts, setID string) string  { return "QUESTION#" + ts + "#" + setID }
func QuestionGSISK(ts string) string      { return "QUESTION#" + ts }
func SubjectPK(subject string) string     { return "SUBJECT#" + subject }
func QuestionSetPK(setID string) string   { return "QUESTIONSET#" + setID }

// Timestamp renders t the way sort keys expect: UTC with millisecond
// precision, so lexical order is chronological.
func Timestamp(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z") }

// Key builds a primary-key attribute map.
func Key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func S(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

// BatchWrite sends reqs in groups of 25 and resubmits unprocessed items with
// a short backoff.
func BatchWrite(ctx context.Context, api API, table string, reqs []types.WriteRequest) error {
	for start := 0; start < len(reqs); start += batchMax {
		end := min(start+batchMax, len(reqs))
		pending := map[string][]types.WriteRequest{table: reqs[start:end]}
		for attempt := 0; len(pending[table]) > 0; attempt++ {
			if attempt == batchAttempts {
				return fmt.Errorf("ddb: %d items unprocessed after %d attempts", len(pending[table]), batchAttempts)
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt*50) * time.Millisecond):
				}
			}
			out, err := api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("ddb: batch write: %w", err)
			}
			pending = map[string][]types.WriteRequest{table: out.UnprocessedItems[table]}
		}
	}
	return nil
}

// PutRequest wraps an item for BatchWrite.
func PutRequest(item map[string]types.AttributeValue) types.WriteRequest {
	return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
}

// DeleteRequest wraps a key for BatchWrite.
func DeleteRequest(pk, sk string) types.WriteRequest {
	return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: Key(pk, sk)}}
}

// QueryAll follows LastEvaluatedKey until the query is exhausted.
func QueryAll(ctx context.Context, api API, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewQueryPaginator(api, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ddb: query: %w", err)
		}
		items = append(items, out.Items...)
	}
	return items, nil
}

// CountAll runs in as a COUNT query and sums Count over every page.
func CountAll(ctx context.Context, api API, in *dynamodb.QueryInput) (int, error) {
	in.Select = types.SelectCount
	n := 0
	p := dynamodb.NewQueryPaginator(api, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("ddb: count: %w", err)
		}
		n += int(out.Count)
	}
	return n, nil
}

// PrefixQuery builds "PK = :pk AND begins_with(SK, :prefix)".
func PrefixQuery(table, pk, prefix string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     S(pk),
			":prefix": S(prefix),
		},
	}
}
