// Package ddbtest provides an in-memory stand-in for the DynamoDB calls in
// ddb.API. It understands the key and filter expressions hanjang issues:
// terms joined by AND, each either "name = :v" or "begins_with(name, :v)".
package ddbtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Item = map[string]types.AttributeValue

type Fake struct {
	mu    sync.Mutex
	items map[string]Item

	// UnprocessedOnce makes the next BatchWriteItem leave its last request
	// unprocessed.
	UnprocessedOnce bool
	// FailBatchCall makes the BatchWriteItem call with this 1-based number
	// fail without writing anything.
	FailBatchCall int
	BatchCalls    int
	QueryCalls      int
}

func New() *Fake { return &Fake{items: make(map[string]Item)} }

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprint(v.Value)
	}
	return ""
}

func keyOf(it Item) string { return str(it["PK"]) + "\x00" + str(it["SK"]) }

// Len returns the number of stored items.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Items returns stored items whose PK has the given prefix.
func (f *Fake) Items(pkPrefix string) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Item
	for _, it := range f.items {
		if strings.HasPrefix(str(it["PK"]), pkPrefix) {
			out = append(out, it)
		}
	}
	return out
}

func (f *Fake) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *Fake) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BatchCalls++
	if f.FailBatchCall > 0 && f.BatchCalls == f.FailBatchCall {
		return nil, errors.New("ProvisionedThroughputExceededException: throttled")
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if len(reqs) > 25 {
			return nil, errors.New("ValidationException: too many items in batch")
		}
		if f.UnprocessedOnce && len(reqs) > 0 {
			f.UnprocessedOnce = false
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				f.items[keyOf(r.PutRequest.Item)] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				delete(f.items, keyOf(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ti := range in.TransactItems {
		if ti.Update != nil || ti.ConditionCheck != nil {
			return nil, errors.New("ddbtest: only Put and Delete are supported in transactions")
		}
	}
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[keyOf(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.items, keyOf(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryCalls++
	pkAttr, skAttr := "PK", "SK"
	if aws.ToString(in.IndexName) != "" {
		pkAttr, skAttr = aws.ToString(in.IndexName)+"PK", aws.ToString(in.IndexName)+"SK"
	}
	keyCond, err := parse(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	filter, err := parse(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	var matched []Item
	for _, it := range f.items {
		if _, ok := it[pkAttr]; ok && keyCond.match(it) {
			matched = append(matched, it)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := str(matched[i][skAttr]), str(matched[j][skAttr])
		if a == b {
			return keyOf(matched[i]) < keyOf(matched[j])
		}
		return a < b
	})
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if in.ExclusiveStartKey != nil {
		start := keyOf(in.ExclusiveStartKey)
		for i, it := range matched {
			if keyOf(it) == start {
				matched = matched[i+1:]
				break
			}
		}
	}
	out := &dynamodb.QueryOutput{}
	page := matched
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		page = matched[:*in.Limit]
		last := page[len(page)-1]
		out.LastEvaluatedKey = Item{"PK": last["PK"], "SK": last["SK"]}
		if pkAttr != "PK" {
			out.LastEvaluatedKey[pkAttr] = last[pkAttr]
			out.LastEvaluatedKey[skAttr] = last[skAttr]
		}
	}
	for _, it := range page {
		if filter.match(it) {
			out.Items = append(out.Items, it)
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(page))
	if in.Select == types.SelectCount {
		out.Items = nil
	}
	return out, nil
}

type term struct {
	attr   string
	value  string
	prefix bool
}

type cond []term

func (c cond) match(it Item) bool {
	for _, t := range c {
		v, ok := it[t.attr]
		if !ok {
			return false
		}
		s := str(v)
		if t.prefix && !strings.HasPrefix(s, t.value) {
			return false
		}
		if !t.prefix && s != t.value {
			return false
		}
	}
	return true
}

func parse(expr string, names map[string]string, values map[string]types.AttributeValue) (cond, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	resolveName := func(n string) string {
		n = strings.TrimSpace(n)
		if r, ok := names[n]; ok {
			return r
		}
		return n
	}
	resolveValue := func(v string) (string, error) {
		av, ok := values[strings.TrimSpace(v)]
		if !ok {
			return "", fmt.Errorf("ddbtest: missing value %s", v)
		}
		return str(av), nil
	}
	var out cond
	for _, part := range strings.Split(expr, " AND ") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "begins_with(") && strings.HasSuffix(part, ")") {
			args := strings.SplitN(strings.TrimSuffix(strings.TrimPrefix(part, "begins_with("), ")"), ",", 2)
			if len(args) != 2 {
				return nil, fmt.Errorf("ddbtest: bad expression %q", part)
			}
			v, err := resolveValue(args[1])
			if err != nil {
				return nil, err
			}
			out = append(out, term{attr: resolveName(args[0]), value: v, prefix: true})
			continue
		}
		lr := strings.SplitN(part, "=", 2)
		if len(lr) != 2 {
			return nil, fmt.Errorf("ddbtest: unsupported expression %q", part)
		}
		v, err := resolveValue(lr[1])
		if err != nil {
			return nil, err
		}
		out = append(out, term{attr: resolveName(lr[0]), value: v})
	}
	return out, nil
}
