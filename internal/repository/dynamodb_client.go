package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"legal-agent/internal/domain"
)

const (
	skPrefixMsg    = "MSG#"
	skMeta         = "META#"
	batchWriteSize = 25
	maxBatchRounds = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client wraps a DynamoDB table for session state. One partition per
// session: a META# item with the session JSON and turn count, and one MSG#
// item per conversation turn keyed by its position.
type Client struct {
	api       dynamodbAPI
	tableName string
	idleTTL   time.Duration
	now       func() time.Time
}

// New creates a new repository Client. Items expire idleTTL after the last write.
func New(api dynamodbAPI, tableName string, idleTTL time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Client{api: api, tableName: tableName, idleTTL: idleTTL, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key of the turn at position index.
func msgSK(index int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, index)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(c.idleTTL).Unix()
}

func (c *Client) metaKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

type meta struct {
	state        string
	turns        int
	ttl          int64
	lastActivity time.Time
}

func (c *Client) getMeta(ctx context.Context, sessionID string) (meta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.metaKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return meta{}, fmt.Errorf("repository: get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return meta{}, ErrSessionNotFound
	}

	var m meta
	if m.state, err = strAttr(out.Item, "state"); err != nil {
		return meta{}, fmt.Errorf("repository: decode meta: %w", err)
	}
	if m.turns, err = intAttr(out.Item, "turns"); err != nil {
		return meta{}, fmt.Errorf("repository: decode turns: %w", err)
	}
	ttl, err := intAttr(out.Item, "ttl")
	if err != nil {
		return meta{}, fmt.Errorf("repository: decode ttl: %w", err)
	}
	m.ttl = int64(ttl)
	if la, _ := strAttr(out.Item, "lastActivity"); la != "" { // allow missing
		m.lastActivity, _ = time.Parse(time.RFC3339, la)
	}
	// TTL deletion is asynchronous; expired items may still be readable.
	if m.ttl <= c.now().Unix() {
		return meta{}, ErrSessionNotFound
	}
	return m, nil
}

// Get loads the session state and its full conversation in insertion order.
func (c *Client) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	m, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(m.state), &s); err != nil {
		return domain.Session{}, fmt.Errorf("repository: decode session state: %w", err)
	}

	turns, err := c.conversation(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	s.Conversation = turns
	if !m.lastActivity.IsZero() {
		s.LastActivity = m.lastActivity
	}
	return s, nil
}

func (c *Client) conversation(ctx context.Context, sessionID string) (domain.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var turns domain.Conversation
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: query conversation: %w", err)
		}
		for _, item := range out.Items {
			turn, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: decode turn: %w", err)
			}
			turns = append(turns, turn)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Save writes the session state. The conversation is not part of the state
// item and the stored turn count is left untouched. Every stored turn gets the
// same expiry as the state item so no turn is reaped before its session.
func (c *Client) Save(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}
	state := s
	state.Conversation = nil
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("repository: Save: encode state: %w", err)
	}

	ttl := strconv.FormatInt(c.ttlValue(), 10)
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.metaKey(s.ID),
		ReturnValues:     types.ReturnValueUpdatedNew,
		UpdateExpression: aws.String("SET #state = :state, lastActivity = :la, #ttl = :ttl, turns = if_not_exists(turns, :zero)"),
		ExpressionAttributeNames: map[string]string{
			"#state": "state",
			"#ttl":   "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state": &types.AttributeValueMemberS{Value: string(raw)},
			":la":    &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
			":ttl":   &types.AttributeValueMemberN{Value: ttl},
			":zero":  &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	turns := 0
	if out != nil && out.Attributes != nil {
		if turns, err = intAttr(out.Attributes, "turns"); err != nil {
			return fmt.Errorf("repository: Save: decode turns: %w", err)
		}
	}
	return c.refreshTurnTTL(ctx, s.ID, turns, ttl)
}

// refreshTurnTTL moves the expiry of the first count turns to ttl. A turn
// that no longer exists is skipped rather than recreated.
func (c *Client) refreshTurnTTL(ctx context.Context, sessionID string, count int, ttl string) error {
	for i := 0; i < count; i++ {
		_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				"SK": &types.AttributeValueMemberS{Value: msgSK(i)},
			},
			UpdateExpression:         aws.String("SET #ttl = :ttl"),
			ConditionExpression:      aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ttl": &types.AttributeValueMemberN{Value: ttl},
			},
		})
		var missing *types.ConditionalCheckFailedException
		if errors.As(err, &missing) {
			continue
		}
		if err != nil {
			return fmt.Errorf("repository: refresh turn %d ttl: %w", i, err)
		}
	}
	return nil
}

// AppendTurns writes the turns after every stored turn and bumps the count in
// one transaction. A concurrent append makes the count condition fail instead
// of interleaving.
func (c *Client) AppendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	m, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return err
	}

	ttl := strconv.FormatInt(c.ttlValue(), 10)
	items := make([]types.TransactWriteItem, 0, len(turns)+1)
	for i, turn := range turns {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                turnItem(sessionID, m.turns+i, turn, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(c.tableName),
			Key:                 c.metaKey(sessionID),
			UpdateExpression:    aws.String("SET turns = :next, lastActivity = :la, #ttl = :ttl"),
			ConditionExpression: aws.String("turns = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#ttl": "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":next":     &types.AttributeValueMemberN{Value: strconv.Itoa(m.turns + len(turns))},
				":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(m.turns)},
				":la":       &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
				":ttl":      &types.AttributeValueMemberN{Value: ttl},
			},
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: AppendTurns: %w", err)
	}
	return c.refreshTurnTTL(ctx, sessionID, m.turns, ttl)
}

// Delete removes every item of the session partition.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	keys, err := c.partitionKeys(ctx, sessionID)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += batchWriteSize {
		end := min(start+batchWriteSize, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}
		if err := c.batchDelete(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{c.tableName: requests}
	for round := 0; round < maxBatchRounds; round++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("repository: Delete: %w", err)
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("repository: Delete: %d items left unprocessed", len(pending[c.tableName]))
}

func (c *Client) partitionKeys(ctx context.Context, sessionID string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}
	var keys []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Delete query: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func turnItem(sessionID string, index int, turn domain.ConversationTurn, ttl string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(index)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"role":      &types.AttributeValueMemberS{Value: string(turn.Role)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: ttl},
	}
}

// itemToTurn converts a DynamoDB attribute map to a ConversationTurn.
func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	turn := domain.ConversationTurn{Role: domain.Role(role), Text: text}
	if created, _ := strAttr(item, "createdAt"); created != "" { // allow missing
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			turn.CreatedAt = ts
		}
	}
	return turn, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
