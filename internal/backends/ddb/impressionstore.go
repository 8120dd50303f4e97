package ddb

import (
	"adslots/internal/ports"
	"adslots/internal/types"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultEventTTL is how long individual impression items live before DynamoDB expires them.
const DefaultEventTTL = 7 * 24 * time.Hour

// ImpressionStore keeps one counter item per unit plus one TTL item per impression.
type ImpressionStore struct {
	table string
	ttl   time.Duration
	cli   *dynamodb.Client
}

var _ ports.ImpressionStore = (*ImpressionStore)(nil)

type impressionItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.Impression
	ExpiresAt int64 `dynamodbav:"ttl"`
}

func NewImpressionStore(table string, cli *dynamodb.Client) (*ImpressionStore, error) {
	// ResourceInUse means the table is already there
	if err := createTableIfNotExists(cli, table); err != nil {
		return nil, err
	}
	return &ImpressionStore{table: table, ttl: DefaultEventTTL, cli: cli}, nil
}

func (s *ImpressionStore) Name() string { return "ddb" }

func (s *ImpressionStore) Store(ctx context.Context, imp types.Impression) error {
	if imp.Kind != types.ImpressionDisplay && imp.Kind != types.ImpressionRefresh {
		return types.Err(types.ErrLedgerAccess, nil, "unknown impression kind %q", imp.Kind)
	}
	pk := pkUnit(imp.AdID, imp.Placement)

	// ADD creates the counter at 0 when the item or attribute is missing
	_, err := s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pk},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skCounts()},
		},
		UpdateExpression: awsString(
			"SET #ad = :ad, #pl = :pl, #last = :at " +
				"ADD #kind :one",
		),
		ExpressionAttributeNames: map[string]string{
			"#ad":   "ad_id",
			"#pl":   "placement",
			"#last": "last_at",
			"#kind": string(imp.Kind),
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":ad":  &ddbTypes.AttributeValueMemberS{Value: imp.AdID},
			":pl":  &ddbTypes.AttributeValueMemberS{Value: imp.Placement},
			":at":  &ddbTypes.AttributeValueMemberN{Value: itoa(imp.At.Unix())},
			":one": &ddbTypes.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return types.Err(types.ErrLedgerAccess, err, "count %s of %q", imp.Kind, imp.ElementID)
	}

	item, err := attributevalue.MarshalMap(impressionItem{
		PK:         pk,
		SK:         skImpression(imp.At, imp.PageViewID),
		Impression: imp,
		ExpiresAt:  imp.At.Add(s.ttl).Unix(),
	})
	if err != nil {
		return types.Err(types.ErrLedgerAccess, err, "marshal impression")
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      item,
	})
	if err != nil {
		return types.Err(types.ErrLedgerAccess, err, "put impression of %q", imp.ElementID)
	}
	return nil
}

func (s *ImpressionStore) Counts(ctx context.Context, adID, placement string) (types.ImpressionCounts, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkUnit(adID, placement)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skCounts()},
		},
	})
	if err != nil {
		return types.ImpressionCounts{}, types.Err(types.ErrLedgerAccess, err, "counts of %q", adID)
	}
	if out.Item == nil {
		return types.ImpressionCounts{}, types.ErrNotFound
	}
	var c types.ImpressionCounts
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return types.ImpressionCounts{}, err
	}
	return c, nil
}

// Recent returns up to n of the unit's latest impressions, most recent last.
func (s *ImpressionStore) Recent(ctx context.Context, adID, placement string, n int) ([]types.Impression, error) {
	if n <= 0 || n > types.HardLimitRecentItems {
		n = types.HardLimitRecentItems
	}
	out, err := s.cli.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.table,
		KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":pk": &ddbTypes.AttributeValueMemberS{Value: pkUnit(adID, placement)},
			":sk": &ddbTypes.AttributeValueMemberS{Value: SImp + "#"},
		},
		ScanIndexForward: awsBool(false),
		Limit:            awsInt32(int32(n)),
	})
	if err != nil {
		return nil, types.Err(types.ErrLedgerAccess, err, "recent of %q", adID)
	}
	imps := make([]types.Impression, len(out.Items))
	for i, item := range out.Items {
		var it impressionItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return nil, err
		}
		imps[len(out.Items)-1-i] = it.Impression
	}
	return imps, nil
}

func awsInt32(i int32) *int32 { return &i }
