package storage

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ DecisionStorage = (*GormDecisionStorage)(nil)

// GormDecisionStorage keeps decisions in a relational database. Voters and
// votes use (decision_id, user_id) as their primary key.
type GormDecisionStorage struct {
	DB *gorm.DB
}

// OpenSQL opens a gorm connection for driver "mysql" or "sqlite".
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(logging.Log.Out, "\r\n", log.LstdFlags),
		logger.Config{SlowThreshold: time.Second, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true, Colorful: false},
	)

	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(ensureParam(dsn, "parseTime", "true"))
	case "sqlite":
		dialector = sqlite.Open(ensureParam(dsn, "_foreign_keys", "on"))
	default:
		return nil, errors.New("unsupported sql driver: " + driver)
	}
	return gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

func NewGormDecisionStorage(db *gorm.DB) *GormDecisionStorage {
	return &GormDecisionStorage{DB: db}
}

func (s *GormDecisionStorage) AutoMigrate() error {
	return s.DB.AutoMigrate(&Decision{}, &Voter{}, &Vote{})
}

func (s *GormDecisionStorage) CreateDecision(ctx context.Context, decision *Decision) (string, error) {
	if err := prepareDecision(decision, time.Now().UTC()); err != nil {
		logging.Log.Warnf("DECISION: rejected create: %v", err)
		return "", err
	}
	if err := s.DB.WithContext(ctx).Omit(clause.Associations).Create(decision).Error; err != nil {
		logging.Log.Errorf("DECISION: failed to create decision %s: %v", decision.ID, err)
		return "", err
	}
	logging.Log.Infof("DECISION: created decision %s (%s)", decision.ID, decision.SuccessPolicy)
	return decision.ID, nil
}

func (s *GormDecisionStorage) AddVoters(ctx context.Context, decisionID string, userIDs []string) error {
	ids := uniqueUserIDs(userIDs)
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := decisionExists(tx, decisionID); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		now := time.Now().UTC()
		voters := make([]Voter, 0, len(ids))
		for _, id := range ids {
			voters = append(voters, Voter{DecisionID: decisionID, UserID: id, Required: true, CreatedAt: now})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&voters)
		if res.Error != nil {
			logging.Log.Errorf("VOTER: failed to add voters to decision %s: %v", decisionID, res.Error)
			return res.Error
		}
		logging.Log.Debugf("VOTER: added %d voters to decision %s", res.RowsAffected, decisionID)
		return nil
	})
}

// decisionExists returns ErrDecisionNotFound unless the decision row is present.
func decisionExists(tx *gorm.DB, decisionID string) error {
	var count int64
	if err := tx.Model(&Decision{}).Where("id = ?", decisionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

func (s *GormDecisionStorage) GetDecision(ctx context.Context, id string) (*Decision, error) {
	var decision Decision
	err := s.DB.WithContext(ctx).Where("id = ?", id).Take(&decision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDecisionNotFound
		}
		logging.Log.Errorf("DECISION: lookup of %s failed: %v", id, err)
		return nil, err
	}
	return &decision, nil
}

func (s *GormDecisionStorage) GetVoters(ctx context.Context, decisionID string) ([]*Voter, error) {
	voters := []*Voter{}
	if err := s.DB.WithContext(ctx).Where("decision_id = ?", decisionID).Find(&voters).Error; err != nil {
		logging.Log.Errorf("VOTER: failed to load voters for decision %s: %v", decisionID, err)
		return nil, err
	}
	return voters, nil
}

func (s *GormDecisionStorage) RecordVote(ctx context.Context, decisionID, userID string, value VoteValue) error {
	if !value.Valid() {
		return ErrInvalidVoteValue
	}
	vote := &Vote{DecisionID: decisionID, UserID: userID, Value: value, VotedAt: time.Now().UTC()}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := decisionExists(tx, decisionID); err != nil {
			return err
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "decision_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "voted_at"}),
		}).Create(vote).Error
		if err != nil {
			logging.Log.Errorf("VOTE: failed to record vote of %s on %s: %v", userID, decisionID, err)
			return err
		}
		return nil
	})
}

func (s *GormDecisionStorage) GetVotes(ctx context.Context, decisionID string) ([]*Vote, error) {
	votes := []*Vote{}
	if err := s.DB.WithContext(ctx).Where("decision_id = ?", decisionID).Find(&votes).Error; err != nil {
		logging.Log.Errorf("VOTE: failed to load votes for decision %s: %v", decisionID, err)
		return nil, err
	}
	return votes, nil
}

func (s *GormDecisionStorage) UpdateDecisionMessageRef(ctx context.Context, decisionID, ref string) error {
	err := s.DB.WithContext(ctx).Model(&Decision{}).
		Where("id = ?", decisionID).
		Updates(map[string]interface{}{"message_ref": ref, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		logging.Log.Errorf("DECISION: failed to update message ref of %s: %v", decisionID, err)
	}
	return err
}

func (s *GormDecisionStorage) UpdateDecisionStatus(ctx context.Context, decisionID string, status DecisionStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	res := s.DB.WithContext(ctx).Model(&Decision{}).
		Where("id = ? AND status = ?", decisionID, StatusActive).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		logging.Log.Errorf("DECISION: failed to update status of %s: %v", decisionID, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		logging.Log.Debugf("DECISION: %s missing or already closed, ignoring transition to %s", decisionID, status)
		return nil
	}
	logging.Log.Infof("DECISION: %s is now %s", decisionID, status)
	return nil
}

func (s *GormDecisionStorage) ListActiveDecisions(ctx context.Context) ([]*Decision, error) {
	decisions := []*Decision{}
	err := s.DB.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("deadline ASC").Order("created_at ASC").
		Find(&decisions).Error
	if err != nil {
		logging.Log.Errorf("DECISION: failed to list active decisions: %v", err)
		return nil, err
	}
	return decisions, nil
}

func (s *GormDecisionStorage) GetMissingVoters(ctx context.Context, decisionID string) ([]*Voter, error) {
	voters := []*Voter{}
	err := s.DB.WithContext(ctx).
		Where("voters.decision_id = ?", decisionID).
		Where("NOT EXISTS (?)", s.DB.Model(&Vote{}).
			Select("1").
			Where("votes.decision_id = voters.decision_id AND votes.user_id = voters.user_id")).
		Find(&voters).Error
	if err != nil {
		logging.Log.Errorf("VOTER: failed to load missing voters for decision %s: %v", decisionID, err)
		return nil, err
	}
	return voters, nil
}

func (s *GormDecisionStorage) GetVoteSummary(ctx context.Context, decisionID string) (*VoteSummary, error) {
	var rows []struct {
		Value VoteValue
		Count int
	}
	err := s.DB.WithContext(ctx).Model(&Vote{}).
		Select("value, COUNT(*) AS count").
		Where("decision_id = ?", decisionID).
		Group("value").
		Scan(&rows).Error
	if err != nil {
		logging.Log.Errorf("VOTE: failed to summarize votes for decision %s: %v", decisionID, err)
		return nil, err
	}

	summary := &VoteSummary{}
	for _, r := range rows {
		summary.Total += r.Count
		switch r.Value {
		case VoteYes:
			summary.Yes = r.Count
		case VoteNo:
			summary.No = r.Count
		case VoteAbstain:
			summary.Abstain = r.Count
		}
	}
	return summary, nil
}

func (s *GormDecisionStorage) IsEligibleVoter(ctx context.Context, decisionID, userID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&Voter{}).
		Where("decision_id = ? AND user_id = ?", decisionID, userID).
		Count(&count).Error
	if err != nil {
		logging.Log.Errorf("VOTER: eligibility lookup for %s on %s failed: %v", userID, decisionID, err)
		return false, err
	}
	return count > 0, nil
}
