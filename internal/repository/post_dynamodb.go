package repository

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/d60-Lab/post-resolver/config"
	"github.com/d60-Lab/post-resolver/internal/model"
)

// DynamoDBAPI *dynamodb.Client 中用到的方法，便于测试替换
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewDynamoDBClient 按配置构造客户端；配置了 endpoint 时指向本地 DynamoDB
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		accessKey, secretKey := cfg.AccessKey, cfg.SecretKey
		if accessKey == "" {
			accessKey = envOr("DYNAMODB_ACCESS_KEY", "dummy")
		}
		if secretKey == "" {
			secretKey = envOr("DYNAMODB_SECRET_KEY", "dummy")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// dynamoCursor DynamoDB 后端的续传标记：LastEvaluatedKey 连同所属索引与分区
type dynamoCursor struct {
	Index     string         `json:"ix"`
	Partition string         `json:"pk"`
	Key       map[string]any `json:"k"`
}

// DynamoDBPostStore 帖子表：主键 id，两个 GSI 对应两种时间线
type DynamoDBPostStore struct {
	client DynamoDBAPI
	table  string
}

func NewDynamoDBPostStore(client DynamoDBAPI, table string) *DynamoDBPostStore {
	return &DynamoDBPostStore{client: client, table: table}
}

// EnsurePostTable 创建帖子表及 GSI，已存在时忽略
func (s *DynamoDBPostStore) EnsurePostTable(ctx context.Context) error {
	gsi := func(name, pk string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(model.AttrTimestamp), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(model.AttrID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(model.AttrType), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(model.AttrOwner), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(model.AttrTimestamp), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(model.AttrID), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(IndexByTimestamp, model.AttrType),
			gsi(IndexByOwner, model.AttrOwner),
		},
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	return err
}

func (s *DynamoDBPostStore) PutItem(ctx context.Context, req PutItemRequest) (model.Item, error) {
	item := make(model.Item, len(req.Attributes)+1)
	for k, v := range req.Attributes {
		item[k] = v
	}
	item[model.AttrID] = req.Key

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *DynamoDBPostStore) GetItem(ctx context.Context, req GetItemRequest) (model.Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			model.AttrID: &types.AttributeValueMemberS{Value: req.Key},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item model.Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return model.NormalizeItem(item), nil
}

func (s *DynamoDBPostStore) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	attr, err := PartitionAttr(req.Index)
	if err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(req.Index),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: req.PartitionValue},
		},
		Limit:            aws.Int32(int32(req.limitOrDefault())),
		ScanIndexForward: aws.Bool(req.ScanIndexForward),
	}
	if req.NextToken != "" {
		var cur dynamoCursor
		if err := decodeToken(req.NextToken, &cur); err != nil {
			return nil, err
		}
		if cur.Index != req.Index || cur.Partition != req.PartitionValue || len(cur.Key) == 0 {
			return nil, fmt.Errorf("%w: token belongs to another query", ErrInvalidNextToken)
		}
		key, err := attributevalue.MarshalMap(cur.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNextToken, err)
		}
		in.ExclusiveStartKey = key
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Items: make([]model.Item, 0, len(out.Items))}
	for _, raw := range out.Items {
		var item model.Item
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal item: %w", err)
		}
		res.Items = append(res.Items, model.NormalizeItem(item))
	}
	if len(out.LastEvaluatedKey) > 0 {
		var last map[string]any
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &last); err != nil {
			return nil, fmt.Errorf("unmarshal last key: %w", err)
		}
		token, err := encodeToken(dynamoCursor{Index: req.Index, Partition: req.PartitionValue, Key: last})
		if err != nil {
			return nil, err
		}
		res.NextToken = &token
	}
	return res, nil
}
