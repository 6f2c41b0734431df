package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "JOB#"
	skMeta   = "META"
	skBatch  = "BATCH#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
	// maxUnprocessedRetries bounds resubmission of throttled batch items.
	maxUnprocessedRetries = 3
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements HistoryStore using AWS DynamoDB.
type DynamoStore struct {
	client     DynamoAPI
	tableName  string
	now        func() time.Time
	retryDelay time.Duration
}

// Compile-time interface check.
var _ HistoryStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client is normally dynamodb.NewFromConfig(cfg).
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:     client,
		tableName:  tableName,
		now:        time.Now,
		retryDelay: 100 * time.Millisecond,
	}
}

func jobPK(key string) string {
	return pkPrefix + key
}

// batchSK zero-pads the index so sort order matches arrival order.
func batchSK(index int) string {
	return fmt.Sprintf("%s%06d", skBatch, index)
}

func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(RecordTTL).Unix()
}

// marshalItem marshals a domain object and adds PK, SK and TTL attributes.
func (s *DynamoStore) marshalItem(pk, sk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}
	return item, nil
}

func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := s.marshalItem(pk, sk, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix returns all items of a job whose SK begins with skPrefix.
// An empty prefix returns every item of the job.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, key, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := jobPK(key)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :skPrefix)")
		input.ExpressionAttributeValues[":skPrefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var all []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		all = append(all, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return all, nil
}

// batchWrite sends write requests in chunks of maxBatchWrite. Items the
// service hands back as unprocessed are resent with a linear backoff; any
// still left after maxUnprocessedRetries are logged and dropped.
func (s *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(requests))
		pending := requests[i:end]
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				log.Warn().
					Str("table", s.tableName).
					Int("unprocessed", len(pending)).
					Msg("Dropping unprocessed history items")
				break
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return fmt.Errorf("BatchWriteItem retry: %w", ctx.Err())
				case <-time.After(time.Duration(attempt) * s.retryDelay):
				}
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					s.tableName: pending,
				},
			})
			if err != nil {
				return fmt.Errorf("BatchWriteItem (%d items): %w", len(pending), err)
			}
			pending = out.UnprocessedItems[s.tableName]
			if len(pending) > 0 {
				log.Debug().Str("table", s.tableName).Int("unprocessed", len(pending)).Int("attempt", attempt+1).Msg("Retrying unprocessed history items")
			}
		}
	}
	return nil
}

// PutJob writes the job summary followed by every batch item.
func (s *DynamoStore) PutJob(ctx context.Context, rec *JobRecord) error {
	if rec.SubmittedAt == 0 {
		rec.SubmittedAt = s.now().Unix()
	}
	pk := jobPK(rec.Key)
	if err := s.putItem(ctx, pk, skMeta, rec); err != nil {
		return fmt.Errorf("put job %s: %w", rec.Key, err)
	}

	requests := make([]types.WriteRequest, 0, len(rec.Batches))
	for _, b := range rec.Batches {
		item, err := s.marshalItem(pk, batchSK(b.Index), b)
		if err != nil {
			return fmt.Errorf("put job %s batch %d: %w", rec.Key, b.Index, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("put job %s batches: %w", rec.Key, err)
	}

	log.Debug().
		Str("jobKey", rec.Key).
		Str("status", rec.Status).
		Int("batches", len(rec.Batches)).
		Msg("Job persisted to DynamoDB")
	return nil
}

// GetJob reads the job summary and its batches in index order.
func (s *DynamoStore) GetJob(ctx context.Context, key string) (*JobRecord, error) {
	var rec JobRecord
	found, err := s.getItem(ctx, jobPK(key), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	rec.Key = key

	items, err := s.queryBySKPrefix(ctx, key, skBatch)
	if err != nil {
		return nil, fmt.Errorf("get job %s batches: %w", key, err)
	}
	for _, item := range items {
		var b BatchRecord
		if err := attributevalue.UnmarshalMap(item, &b); err != nil {
			return nil, fmt.Errorf("unmarshal job %s batch: %w", key, err)
		}
		rec.Batches = append(rec.Batches, b)
	}
	return &rec, nil
}

// DeleteJob removes the summary and all batch items of a job.
func (s *DynamoStore) DeleteJob(ctx context.Context, key string) error {
	items, err := s.queryBySKPrefix(ctx, key, "")
	if err != nil {
		return fmt.Errorf("delete job %s: %w", key, err)
	}

	requests := make([]types.WriteRequest, 0, len(items))
	var sks []string
	for _, item := range items {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			}},
		})
		if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			sks = append(sks, sk.Value)
		}
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("delete job %s: %w", key, err)
	}

	log.Debug().Str("jobKey", key).Str("sortKeys", strings.Join(sks, ",")).Msg("Job deleted from DynamoDB")
	return nil
}
