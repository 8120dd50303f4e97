package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	SUnit   = "UNIT"
	SCounts = "COUNTS"
	SImp    = "IMP"
)

func pkUnit(adID, placement string) string { return fmt.Sprintf("%s#%s#%s", SUnit, adID, placement) }
func skCounts() string                     { return SCounts }
func skImpression(at time.Time, pageViewID string) string {
	return fmt.Sprintf("%s#%020d#%s", SImp, at.UnixNano(), pageViewID)
}

func createTableIfNotExists(client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func itoa(i int64) string        { return strconv.FormatInt(i, 10) }
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
