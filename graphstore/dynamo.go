package graphstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/chunkgraph/core"
)

// DDBClient is the interface for the DynamoDB operations the store uses.
// Declared locally so tests can substitute a fake.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on DynamoDB.
//
// DynamoDB provides the per-key atomic writes and sorted range queries
// the graph needs: the chunk identity is the partition key and the full
// segment ID the sort key, so ScanChunk is a single Query.
//
// Table schema:
//   - Partition key: chunk (number) - the segment's ChunkID
//   - Sort key: node (number) - the SegmentID
//   - Attribute: data (binary) - the encoded node record
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name chunkgraph-nodes \
//	  --attribute-definitions AttributeName=chunk,AttributeType=N AttributeName=node,AttributeType=N \
//	  --key-schema AttributeName=chunk,KeyType=HASH AttributeName=node,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoStore struct {
	client    DDBClient
	tableName string
}

// NewDynamoStore creates a graph store over an existing DynamoDB table.
func NewDynamoStore(client DDBClient, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func nodeKey(id core.SegmentID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"chunk": &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(id.ChunkID()), 10)},
		"node":  &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(id), 10)},
	}
}

// ReadNode implements Store.
func (s *DynamoStore) ReadNode(ctx context.Context, id core.SegmentID) (*Node, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            nodeKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: get %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNodeNotFound
	}
	return itemToNode(id, out.Item)
}

// WriteNodes implements Store. Each record is one PutItem, which DynamoDB
// applies atomically.
func (s *DynamoStore) WriteNodes(ctx context.Context, nodes []*Node) error {
	for _, n := range nodes {
		data, err := encodeNode(n)
		if err != nil {
			return err
		}

		item := nodeKey(n.ID)
		item["data"] = &types.AttributeValueMemberB{Value: data}

		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      item,
		}); err != nil {
			return fmt.Errorf("graphstore: put %s: %w", n.ID, err)
		}
	}
	return nil
}

// SetParent implements Store via read-modify-write. The conditional put
// rejects the write if the record disappeared in between.
func (s *DynamoStore) SetParent(ctx context.Context, id, parent core.SegmentID) error {
	n, err := s.ReadNode(ctx, id)
	if err != nil {
		return err
	}
	n.Parent = parent

	data, err := encodeNode(n)
	if err != nil {
		return err
	}

	item := nodeKey(id)
	item["data"] = &types.AttributeValueMemberB{Value: data}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(#n)"),
		ExpressionAttributeNames: map[string]string{
			"#n": "node",
		},
	})
	var cond *types.ConditionalCheckFailedException
	if errors.As(err, &cond) {
		return ErrNodeNotFound
	}
	if err != nil {
		return fmt.Errorf("graphstore: set parent of %s: %w", id, err)
	}
	return nil
}

// ScanChunk implements Store with a single partition Query; DynamoDB
// returns items in sort-key order.
func (s *DynamoStore) ScanChunk(ctx context.Context, chunk core.ChunkID) ([]*Node, error) {
	var nodes []*Node
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("#c = :chunk"),
			ExpressionAttributeNames: map[string]string{
				"#c": "chunk",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":chunk": &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(chunk), 10)},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("graphstore: scan chunk %s: %w", chunk, err)
		}

		for _, item := range out.Items {
			idAttr, ok := item["node"].(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("graphstore: malformed item in chunk %s", chunk)
			}
			raw, err := strconv.ParseUint(idAttr.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("graphstore: malformed node id %q: %w", idAttr.Value, err)
			}
			n, err := itemToNode(core.SegmentID(raw), item)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}

		if out.LastEvaluatedKey == nil {
			return nodes, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func itemToNode(id core.SegmentID, item map[string]types.AttributeValue) (*Node, error) {
	dataAttr, ok := item["data"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("graphstore: record %s has no data attribute", id)
	}
	return decodeNode(id, dataAttr.Value)
}
