package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"legal-agent/internal/domain"
)

type fakeDynamo struct {
	getOut     *dynamodb.GetItemOutput
	getErr     error
	updateOut  *dynamodb.UpdateItemOutput
	updateErr  error
	queryPages []*dynamodb.QueryOutput
	queryErr   error
	txErr      error
	batchOuts  []*dynamodb.BatchWriteItemOutput
	batchErr   error

	// turnUpdateErr is returned for updates of MSG# items only.
	turnUpdateErr error

	lastGetInput    *dynamodb.GetItemInput
	lastUpdateInput *dynamodb.UpdateItemInput
	updateInputs    []*dynamodb.UpdateItemInput
	queryInputs     []*dynamodb.QueryInput
	lastTxInput     *dynamodb.TransactWriteItemsInput
	batchInputs     []*dynamodb.BatchWriteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	if sk, ok := in.Key["SK"].(*types.AttributeValueMemberS); ok && sk.Value != skMeta {
		return &dynamodb.UpdateItemOutput{}, f.turnUpdateErr
	}
	f.lastUpdateInput = in
	if f.updateOut != nil {
		return f.updateOut, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

// turnTTLs returns the ttl written to each MSG# item, keyed by sort key.
func (f *fakeDynamo) turnTTLs() map[string]string {
	out := make(map[string]string)
	for _, in := range f.updateInputs {
		sk := in.Key["SK"].(*types.AttributeValueMemberS).Value
		if sk == skMeta {
			continue
		}
		out[sk] = in.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value
	}
	return out
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return page, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchInputs = append(f.batchInputs, in)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if len(f.batchOuts) == 0 {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	out := f.batchOuts[0]
	f.batchOuts = f.batchOuts[1:]
	return out, nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", 30*time.Minute)
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func makeMetaItem(t *testing.T, s domain.Session, turns int, ttl int64) map[string]types.AttributeValue {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"state":        &types.AttributeValueMemberS{Value: string(raw)},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		"lastActivity": &types.AttributeValueMemberS{Value: fixedNow.Add(-time.Minute).Format(time.RFC3339)},
	}
}

func makeTurnItem(index int, role domain.Role, text string) map[string]types.AttributeValue {
	return turnItem("abc", index, domain.ConversationTurn{Role: role, Text: text, CreatedAt: fixedNow}, "0")
}

func liveTTL() int64 { return fixedNow.Add(10 * time.Minute).Unix() }

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "table", 0)
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ", 0)
	require.Error(t, err)

	c, err := New(&fakeDynamo{}, "table", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultIdleTTL, c.idleTTL)
}

func TestMsgSK_SortsByInsertionOrder(t *testing.T) {
	require.Equal(t, "MSG#000000", msgSK(0))
	require.Equal(t, "MSG#000042", msgSK(42))
	require.Less(t, msgSK(9), msgSK(10))
}

func TestGet_HappyPath(t *testing.T) {
	contract := domain.Document{ID: "doc-1", Name: "msa.txt", Format: domain.FormatTXT, Text: "contract"}
	session := domain.Session{ID: "abc", Contract: &contract, CreatedAt: fixedNow.Add(-time.Hour)}
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMetaItem(t, session, 3, liveTTL())},
		queryPages: []*dynamodb.QueryOutput{
			{
				Items: []map[string]types.AttributeValue{
					makeTurnItem(0, domain.RoleUser, "Who are the parties?"),
					makeTurnItem(1, domain.RoleAssistant, "Acme and Globex."),
				},
				LastEvaluatedKey: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"},
					"SK": &types.AttributeValueMemberS{Value: msgSK(1)},
				},
			},
			{Items: []map[string]types.AttributeValue{makeTurnItem(2, domain.RoleUser, "Term?")}},
		},
	}
	c := mustNewClient(t, db)

	got, err := c.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", got.ID)
	require.Equal(t, "contract", got.Contract.Text)
	require.Equal(t, fixedNow.Add(-time.Minute), got.LastActivity)
	require.Len(t, got.Conversation, 3)
	require.Equal(t, "Who are the parties?", got.Conversation[0].Text)
	require.Equal(t, domain.RoleAssistant, got.Conversation[1].Role)
	require.Equal(t, "Term?", got.Conversation[2].Text)
	require.Equal(t, fixedNow, got.Conversation[0].CreatedAt)

	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Len(t, db.queryInputs, 2)
	require.True(t, *db.queryInputs[0].ScanIndexForward, "turns must be read in insertion order")
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestGet_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	_, err := mustNewClient(t, db).Get(context.Background(), "abc")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGet_ExpiredItemIsNotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMetaItem(t, domain.Session{ID: "abc"}, 0, fixedNow.Unix())}}
	_, err := mustNewClient(t, db).Get(context.Background(), "abc")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGet_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	_, err := mustNewClient(t, db).Get(context.Background(), "abc")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSessionNotFound)
	require.Contains(t, err.Error(), "boom")
}

func TestGet_MalformedTurns(t *testing.T) {
	item := makeMetaItem(t, domain.Session{ID: "abc"}, 0, liveTTL())
	item["turns"] = &types.AttributeValueMemberS{Value: "bad"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	_, err := mustNewClient(t, db).Get(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode turns")
}

func TestGet_QueryError(t *testing.T) {
	db := &fakeDynamo{
		getOut:   &dynamodb.GetItemOutput{Item: makeMetaItem(t, domain.Session{ID: "abc"}, 0, liveTTL())},
		queryErr: errors.New("throttled"),
	}
	_, err := mustNewClient(t, db).Get(context.Background(), "abc")
	require.ErrorContains(t, err, "throttled")
}

func TestSave_WritesStateWithoutConversation(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	s := domain.Session{
		ID:           "abc",
		Conversation: domain.Conversation{{Role: domain.RoleUser, Text: "hi"}},
	}
	require.NoError(t, c.Save(context.Background(), s))

	in := db.lastUpdateInput
	require.NotNil(t, in)
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, "SESSION#abc", in.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skMeta, in.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *in.UpdateExpression, "if_not_exists(turns, :zero)")

	state := in.ExpressionAttributeValues[":state"].(*types.AttributeValueMemberS).Value
	var decoded domain.Session
	require.NoError(t, json.Unmarshal([]byte(state), &decoded))
	require.Equal(t, "abc", decoded.ID)
	require.Empty(t, decoded.Conversation)

	ttl := in.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value
	require.Equal(t, strconv.FormatInt(fixedNow.Add(30*time.Minute).Unix(), 10), ttl)
}

func TestSave_ExtendsEveryTurnWithTheSession(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"turns": &types.AttributeValueMemberN{Value: "3"},
	}}}
	c := mustNewClient(t, db)
	require.NoError(t, c.Save(context.Background(), domain.Session{ID: "abc"}))

	meta := db.lastUpdateInput
	require.Equal(t, types.ReturnValueUpdatedNew, meta.ReturnValues)
	metaTTL, err := strconv.ParseInt(meta.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value, 10, 64)
	require.NoError(t, err)

	ttls := db.turnTTLs()
	require.Len(t, ttls, 3)
	for i := 0; i < 3; i++ {
		ttl, err := strconv.ParseInt(ttls[msgSK(i)], 10, 64)
		require.NoError(t, err)
		require.GreaterOrEqual(t, ttl, metaTTL, "turn %d expires before its session", i)
	}
	for _, in := range db.updateInputs[1:] {
		require.Equal(t, "attribute_exists(PK)", *in.ConditionExpression)
		require.Equal(t, "SESSION#abc", in.Key["PK"].(*types.AttributeValueMemberS).Value)
	}
}

func TestSave_SkipsReapedTurnsAndReportsOtherFailures(t *testing.T) {
	out := &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"turns": &types.AttributeValueMemberN{Value: "2"},
	}}
	db := &fakeDynamo{updateOut: out, turnUpdateErr: &types.ConditionalCheckFailedException{}}
	require.NoError(t, mustNewClient(t, db).Save(context.Background(), domain.Session{ID: "abc"}))

	db = &fakeDynamo{updateOut: out, turnUpdateErr: errors.New("throttled")}
	err := mustNewClient(t, db).Save(context.Background(), domain.Session{ID: "abc"})
	require.ErrorContains(t, err, "throttled")
}

func TestSave_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.Save(context.Background(), domain.Session{}))

	c = mustNewClient(t, &fakeDynamo{updateErr: errors.New("boom")})
	err := c.Save(context.Background(), domain.Session{ID: "abc"})
	require.ErrorContains(t, err, "boom")
}

func TestAppendTurns_TransactionLayout(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMetaItem(t, domain.Session{ID: "abc"}, 4, liveTTL())}}
	c := mustNewClient(t, db)

	err := c.AppendTurns(context.Background(), "abc",
		domain.ConversationTurn{Role: domain.RoleUser, Text: "Can Acme terminate early?", CreatedAt: fixedNow},
		domain.ConversationTurn{Role: domain.RoleAssistant, Text: "Yes, on 60 days notice.", CreatedAt: fixedNow},
	)
	require.NoError(t, err)

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 3)
	require.Equal(t, msgSK(4), items[0].Put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "user", items[0].Put.Item["role"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, msgSK(5), items[1].Put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Yes, on 60 days notice.", items[1].Put.Item["text"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *items[0].Put.ConditionExpression, "attribute_not_exists")

	update := items[2].Update
	require.NotNil(t, update)
	require.Equal(t, "turns = :expected", *update.ConditionExpression)
	require.Equal(t, "4", update.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "6", update.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberN).Value)

	// Earlier turns move to the new expiry with the session.
	metaTTL := update.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value
	require.Equal(t, metaTTL, items[0].Put.Item["ttl"].(*types.AttributeValueMemberN).Value)
	ttls := db.turnTTLs()
	require.Len(t, ttls, 4)
	for i := 0; i < 4; i++ {
		require.Equal(t, metaTTL, ttls[msgSK(i)])
	}
}

func TestAppendTurns_UnknownSession(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	err := mustNewClient(t, db).AppendTurns(context.Background(), "abc", domain.ConversationTurn{Role: domain.RoleUser, Text: "x"})
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Nil(t, db.lastTxInput)
}

func TestAppendTurns_TransactionError(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMetaItem(t, domain.Session{ID: "abc"}, 0, liveTTL())},
		txErr:  errors.New("TransactionCanceledException"),
	}
	err := mustNewClient(t, db).AppendTurns(context.Background(), "abc", domain.ConversationTurn{Role: domain.RoleUser, Text: "x"})
	require.ErrorContains(t, err, "AppendTurns")
}

func TestAppendTurns_NoTurnsIsNoop(t *testing.T) {
	db := &fakeDynamo{}
	require.NoError(t, mustNewClient(t, db).AppendTurns(context.Background(), "abc"))
	require.Nil(t, db.lastGetInput)
}

func keyItems(n int) []map[string]types.AttributeValue {
	items := make([]map[string]types.AttributeValue, n)
	for i := range items {
		items[i] = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("MSG#%06d", i)},
		}
	}
	return items
}

func TestDelete_ChunksOf25(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: keyItems(60)}}}
	require.NoError(t, mustNewClient(t, db).Delete(context.Background(), "abc"))

	require.Len(t, db.batchInputs, 3)
	require.Len(t, db.batchInputs[0].RequestItems["test-table"], 25)
	require.Len(t, db.batchInputs[1].RequestItems["test-table"], 25)
	require.Len(t, db.batchInputs[2].RequestItems["test-table"], 10)
	require.Equal(t, "PK, SK", *db.queryInputs[0].ProjectionExpression)
}

func TestDelete_RetriesUnprocessedItems(t *testing.T) {
	leftover := map[string][]types.WriteRequest{
		"test-table": {{DeleteRequest: &types.DeleteRequest{Key: keyItems(1)[0]}}},
	}
	db := &fakeDynamo{
		queryPages: []*dynamodb.QueryOutput{{Items: keyItems(3)}},
		batchOuts:  []*dynamodb.BatchWriteItemOutput{{UnprocessedItems: leftover}},
	}
	require.NoError(t, mustNewClient(t, db).Delete(context.Background(), "abc"))
	require.Len(t, db.batchInputs, 2)
	require.Len(t, db.batchInputs[1].RequestItems["test-table"], 1)
}

func TestDelete_EmptyPartition(t *testing.T) {
	db := &fakeDynamo{}
	require.NoError(t, mustNewClient(t, db).Delete(context.Background(), "abc"))
	require.Empty(t, db.batchInputs)
}

func TestDelete_BatchError(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: keyItems(2)}}, batchErr: errors.New("boom")}
	err := mustNewClient(t, db).Delete(context.Background(), "abc")
	require.ErrorContains(t, err, "boom")
}
