package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB rejects transactions with more than 100 items.
const maxTransactItems = MaxVotersPerBatch

// maxVoteAttempts bounds retries of a vote cancelled by a transaction conflict.
const maxVoteAttempts = 4

// DynamoAPI is the subset of *dynamodb.Client the decision tables need.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ DecisionStorage = (*DynamoDecisionStorage)(nil)

// DynamoDecisionStorage keeps decisions in one table and voters/votes in two
// tables keyed by PK=decision id, SK=user id.
type DynamoDecisionStorage struct {
	Client         DynamoAPI
	DecisionsTable string
	VotersTable    string
	VotesTable     string
}

func decisionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: id},
	}
}

func memberKey(decisionID, userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: decisionID},
		"SK": &types.AttributeValueMemberS{Value: userID},
	}
}

func isConditionalCheckFailed(err error) bool {
	var cce *types.ConditionalCheckFailedException
	return errors.As(err, &cce)
}

func (s *DynamoDecisionStorage) CreateDecision(ctx context.Context, decision *Decision) (string, error) {
	if err := prepareDecision(decision, time.Now().UTC()); err != nil {
		logging.Log.Warnf("DECISION: rejected create: %v", err)
		return "", err
	}

	item, err := attributevalue.MarshalMap(decision)
	if err != nil {
		logging.Log.Errorf("DECISION: failed to marshal decision: %v", err)
		return "", err
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.DecisionsTable,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		logging.Log.Errorf("DECISION: failed to create decision %s: %v", decision.ID, err)
		return "", err
	}
	logging.Log.Infof("DECISION: created decision %s (%s)", decision.ID, decision.SuccessPolicy)
	return decision.ID, nil
}

func (s *DynamoDecisionStorage) AddVoters(ctx context.Context, decisionID string, userIDs []string) error {
	if _, err := s.GetDecision(ctx, decisionID); err != nil {
		return err
	}
	ids := uniqueUserIDs(userIDs)

	// A cancelled transaction means another writer registered one of the same
	// users in between; re-read once and retry with the remainder.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.GetVoters(ctx, decisionID)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(existing))
		for _, v := range existing {
			known[v.UserID] = struct{}{}
		}

		now := time.Now().UTC()
		items := make([]types.TransactWriteItem, 0, len(ids))
		for _, id := range ids {
			if _, ok := known[id]; ok {
				continue
			}
			item, err := attributevalue.MarshalMap(&Voter{DecisionID: decisionID, UserID: id, Required: true, CreatedAt: now})
			if err != nil {
				logging.Log.Errorf("VOTER: failed to marshal voter %s: %v", id, err)
				return err
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           &s.VotersTable,
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(SK)"),
				},
			})
		}
		if len(items) == 0 {
			return nil
		}
		if len(items) > maxTransactItems {
			logging.Log.Warnf("VOTER: refusing to add %d voters to %s in one batch", len(items), decisionID)
			return ErrTooManyVoters
		}

		_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			logging.Log.Debugf("VOTER: added %d voters to decision %s", len(items), decisionID)
			return nil
		}
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && cancelledByCondition(tce) {
			logging.Log.Warnf("VOTER: concurrent registration on decision %s, retrying", decisionID)
			continue
		}
		logging.Log.Errorf("VOTER: failed to add voters to decision %s: %v", decisionID, err)
		return err
	}
	return fmt.Errorf("voter registration for decision %s kept conflicting", decisionID)
}

func cancelledByCondition(tce *types.TransactionCanceledException) bool {
	return hasCancellationCode(tce, "ConditionalCheckFailed")
}

func cancelledByConflict(tce *types.TransactionCanceledException) bool {
	return hasCancellationCode(tce, "TransactionConflict")
}

func hasCancellationCode(tce *types.TransactionCanceledException, code string) bool {
	for _, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == code {
			return true
		}
	}
	return false
}

func (s *DynamoDecisionStorage) GetDecision(ctx context.Context, id string) (*Decision, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.DecisionsTable,
		Key:            decisionKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		logging.Log.Errorf("DECISION: GetItem for ID %s failed: %v", id, err)
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrDecisionNotFound
	}

	var decision Decision
	if err := attributevalue.UnmarshalMap(out.Item, &decision); err != nil {
		logging.Log.Errorf("DECISION: failed to unmarshal decision: %v", err)
		return nil, err
	}
	return &decision, nil
}

// queryByDecision collects every item under PK=decisionID from table.
func (s *DynamoDecisionStorage) queryByDecision(ctx context.Context, table, decisionID string, out interface{}) error {
	paginator := dynamodb.NewQueryPaginator(s.Client, &dynamodb.QueryInput{
		TableName:              &table,
		KeyConditionExpression: aws.String("PK = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: decisionID},
		},
		ConsistentRead: aws.Bool(true),
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		items = append(items, page.Items...)
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (s *DynamoDecisionStorage) GetVoters(ctx context.Context, decisionID string) ([]*Voter, error) {
	voters := []*Voter{}
	if err := s.queryByDecision(ctx, s.VotersTable, decisionID, &voters); err != nil {
		logging.Log.Errorf("VOTER: failed to query voters for decision %s: %v", decisionID, err)
		return nil, err
	}
	return voters, nil
}

func (s *DynamoDecisionStorage) RecordVote(ctx context.Context, decisionID, userID string, value VoteValue) error {
	if !value.Valid() {
		return ErrInvalidVoteValue
	}
	item, err := attributevalue.MarshalMap(&Vote{
		DecisionID: decisionID,
		UserID:     userID,
		Value:      value,
		VotedAt:    time.Now().UTC(),
	})
	if err != nil {
		logging.Log.Errorf("VOTE: failed to marshal vote: %v", err)
		return err
	}

	// The put replaces any earlier vote on the same key. The condition check
	// keeps votes from landing on a decision that does not exist.
	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				ConditionCheck: &types.ConditionCheck{
					TableName:           &s.DecisionsTable,
					Key:                 decisionKey(decisionID),
					ConditionExpression: aws.String("attribute_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: &s.VotesTable,
					Item:      item,
				},
			},
		},
	}
	for attempt := 0; ; attempt++ {
		_, err = s.Client.TransactWriteItems(ctx, input)
		var tce *types.TransactionCanceledException
		if err == nil || !errors.As(err, &tce) {
			break
		}
		if cancelledByCondition(tce) {
			return ErrDecisionNotFound
		}
		// Concurrent votes on one decision all check the same decision item and
		// can collide with each other.
		if !cancelledByConflict(tce) || attempt >= maxVoteAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	if err != nil {
		logging.Log.Errorf("VOTE: failed to record vote of %s on %s: %v", userID, decisionID, err)
		return err
	}
	return nil
}

func (s *DynamoDecisionStorage) GetVotes(ctx context.Context, decisionID string) ([]*Vote, error) {
	votes := []*Vote{}
	if err := s.queryByDecision(ctx, s.VotesTable, decisionID, &votes); err != nil {
		logging.Log.Errorf("VOTE: failed to query votes for decision %s: %v", decisionID, err)
		return nil, err
	}
	return votes, nil
}

func (s *DynamoDecisionStorage) UpdateDecisionMessageRef(ctx context.Context, decisionID, ref string) error {
	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.DecisionsTable,
		Key:                 decisionKey(decisionID),
		UpdateExpression:    aws.String("SET MessageRef = :ref, UpdatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
			":now": now,
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			logging.Log.Warnf("DECISION: no decision %s to attach message ref to", decisionID)
			return nil
		}
		logging.Log.Errorf("DECISION: failed to update message ref of %s: %v", decisionID, err)
		return err
	}
	return nil
}

func (s *DynamoDecisionStorage) UpdateDecisionStatus(ctx context.Context, decisionID string, status DecisionStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.DecisionsTable,
		Key:                 decisionKey(decisionID),
		UpdateExpression:    aws.String("SET #s = :status, UpdatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #s = :active"),
		ExpressionAttributeNames: map[string]string{
			"#s": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":now":    now,
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			logging.Log.Debugf("DECISION: %s missing or already closed, ignoring transition to %s", decisionID, status)
			return nil
		}
		logging.Log.Errorf("DECISION: failed to update status of %s: %v", decisionID, err)
		return err
	}
	logging.Log.Infof("DECISION: %s is now %s", decisionID, status)
	return nil
}

func (s *DynamoDecisionStorage) ListActiveDecisions(ctx context.Context) ([]*Decision, error) {
	paginator := dynamodb.NewScanPaginator(s.Client, &dynamodb.ScanInput{
		TableName:        &s.DecisionsTable,
		FilterExpression: aws.String("#s = :active"),
		ExpressionAttributeNames: map[string]string{
			"#s": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
		},
		ConsistentRead: aws.Bool(true),
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			logging.Log.Errorf("DECISION: scan for active decisions failed: %v", err)
			return nil, err
		}
		items = append(items, page.Items...)
	}

	decisions := []*Decision{}
	if err := attributevalue.UnmarshalListOfMaps(items, &decisions); err != nil {
		logging.Log.Errorf("DECISION: failed to unmarshal decision list: %v", err)
		return nil, err
	}
	sortByDeadline(decisions)
	return decisions, nil
}

func (s *DynamoDecisionStorage) GetMissingVoters(ctx context.Context, decisionID string) ([]*Voter, error) {
	voters, err := s.GetVoters(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	votes, err := s.GetVotes(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return MissingVoters(voters, votes), nil
}

func (s *DynamoDecisionStorage) GetVoteSummary(ctx context.Context, decisionID string) (*VoteSummary, error) {
	votes, err := s.GetVotes(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return summarize(votes), nil
}

func (s *DynamoDecisionStorage) IsEligibleVoter(ctx context.Context, decisionID, userID string) (bool, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            &s.VotersTable,
		Key:                  memberKey(decisionID, userID),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		logging.Log.Errorf("VOTER: eligibility lookup for %s on %s failed: %v", userID, decisionID, err)
		return false, err
	}
	return out.Item != nil, nil
}
