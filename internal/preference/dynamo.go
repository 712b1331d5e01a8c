package preference

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultDynamoTable is the table home stations are kept in.
const DefaultDynamoTable = "RailUK"

// Item attribute names.
const (
	attrUserID      = "UserID"
	attrStationName = "station_name"
	attrStationCRS  = "station_crs"
	attrDistance    = "distance"
)

// DynamoAPI is the subset of *dynamodb.Client used by [DynamoStore].
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const backendDynamo = "dynamodb"

// DynamoStore keeps one item per user keyed by UserID.
type DynamoStore struct {
	api   DynamoAPI
	table string
}

// Compile-time interface checks.
var (
	_ Store     = (*DynamoStore)(nil)
	_ Pinger    = (*DynamoStore)(nil)
	_ DynamoAPI = (*dynamodb.Client)(nil)
)

// NewDynamoStore creates a store on table. An empty table uses
// [DefaultDynamoTable].
func NewDynamoStore(api DynamoAPI, table string) *DynamoStore {
	if table == "" {
		table = DefaultDynamoTable
	}
	return &DynamoStore{api: api, table: table}
}

// OpenDynamo builds a client from the default AWS credential chain. A
// non-empty endpoint overrides the service endpoint, e.g. for DynamoDB
// Local.
func OpenDynamo(ctx context.Context, region, endpoint, table string) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("preference: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoStore(client, table), nil
}

func (s *DynamoStore) Get(ctx context.Context, userID string) (*HomeStation, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrUserID: &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, storeErr(backendDynamo, "get", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	h := HomeStation{}
	h.Station.Name = stringAttr(out.Item[attrStationName])
	h.Station.Code = stringAttr(out.Item[attrStationCRS])
	if n, ok := out.Item[attrDistance].(*types.AttributeValueMemberN); ok {
		d, err := strconv.Atoi(n.Value)
		if err != nil {
			return nil, storeErr(backendDynamo, "get", err)
		}
		h.Distance = d
	}
	if h.Station.Code == "" {
		return nil, storeErr(backendDynamo, "get", errors.New("item has no station code"))
	}
	return &h, nil
}

// Set writes the item and asks for the replaced attributes, which are only
// present when an item already existed.
func (s *DynamoStore) Set(ctx context.Context, userID string, home HomeStation) (Result, error) {
	out, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrUserID:      &types.AttributeValueMemberS{Value: userID},
			attrStationName: &types.AttributeValueMemberS{Value: home.Station.Name},
			attrStationCRS:  &types.AttributeValueMemberS{Value: home.Station.Code},
			attrDistance:    &types.AttributeValueMemberN{Value: strconv.Itoa(home.Distance)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return "", storeErr(backendDynamo, "set", err)
	}
	if len(out.Attributes) > 0 {
		return ResultUpdated, nil
	}
	return ResultSet, nil
}

// Ping checks that the table exists and is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	if _, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return storeErr(backendDynamo, "ping", err)
	}
	return nil
}

func stringAttr(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
