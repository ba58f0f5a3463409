package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

func numberAttr(t *testing.T, item map[string]types.AttributeValue, key string) int64 {
	t.Helper()
	n, ok := item[key].(*types.AttributeValueMemberN)
	require.True(t, ok, "attribute %q is not a number", key)
	v, err := strconv.ParseInt(n.Value, 10, 64)
	require.NoError(t, err)
	return v
}

// fakeDynamo is an in-memory table that honours the attribute_(not_)exists(PK)
// conditions used by DynamoStore.
type fakeDynamo struct {
	items        map[string]map[string]types.AttributeValue
	getErr       error
	putErr       error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := itemKey(in.Item)
	_, found := f.items[key]
	cond := aws.ToString(in.ConditionExpression)
	switch {
	case strings.Contains(cond, "attribute_not_exists(PK)") && found,
		strings.Contains(cond, "attribute_exists(PK)") && !strings.Contains(cond, "not_exists") && !found:
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo, opts ...DynamoOption) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "test-table", opts...)
	require.NoError(t, err)
	return s
}

func TestNewDynamoStore_Validates(t *testing.T) {
	_, err := NewDynamoStore(nil, "t")
	require.Error(t, err)
	_, err = NewDynamoStore(newFakeDynamo(), " ")
	require.Error(t, err)
}

func TestDynamoStore_Contract(t *testing.T) {
	runStoreContract(t, mustNewDynamoStore(t, newFakeDynamo()))
}

func TestDynamoStore_ItemShape(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewDynamoStore(t, db, WithTTL(time.Hour))
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Create(context.Background(), sampleThread("abc")))

	in := db.lastPutInput
	require.Equal(t, "test-table", aws.ToString(in.TableName))
	require.Equal(t, "attribute_not_exists(PK)", aws.ToString(in.ConditionExpression))

	pk, err := strAttr(in.Item, "PK")
	require.NoError(t, err)
	require.Equal(t, "THREAD#abc", pk)
	sk, err := strAttr(in.Item, "SK")
	require.NoError(t, err)
	require.Equal(t, skThread, sk)
	student, err := strAttr(in.Item, "studentId")
	require.NoError(t, err)
	require.Equal(t, "student-1", student)

	require.Equal(t, fixed.Add(time.Hour).Unix(), numberAttr(t, in.Item, "ttl"))
	require.Equal(t, int64(0), numberAttr(t, in.Item, "messages"))

	_, err = s.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, aws.ToBool(db.lastGetInput.ConsistentRead))
}

func TestDynamoStore_Errors(t *testing.T) {
	db := newFakeDynamo()
	db.getErr = errors.New("ResourceNotFoundException")
	s := mustNewDynamoStore(t, db)
	_, err := s.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "Load get item")

	db = newFakeDynamo()
	db.putErr = errors.New("throttled")
	s = mustNewDynamoStore(t, db)
	require.ErrorContains(t, s.Create(context.Background(), sampleThread("abc")), "throttled")
	require.ErrorContains(t, s.Save(context.Background(), sampleThread("abc")), "Save")
}

func TestDynamoStore_MalformedItem(t *testing.T) {
	db := newFakeDynamo()
	db.items["THREAD#abc|THREAD#"] = map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: "THREAD#abc"},
		"SK":       &types.AttributeValueMemberS{Value: skThread},
		"document": &types.AttributeValueMemberN{Value: "1"},
	}
	db.items["THREAD#bad|THREAD#"] = map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: "THREAD#bad"},
		"SK":       &types.AttributeValueMemberS{Value: skThread},
		"document": &types.AttributeValueMemberS{Value: "{broken"},
	}
	s := mustNewDynamoStore(t, db)

	_, err := s.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "not a string")

	_, err = s.Load(context.Background(), "bad")
	require.ErrorContains(t, err, "unmarshal thread")
}
