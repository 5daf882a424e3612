package repository

import (
	"context"
	"errors"
	"time"

	"swarg/internal/models"
	"swarg/internal/observability"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HistoryQuery pages a conversation by message id cursors. The ordering key
// is (created_at, id).
type HistoryQuery struct {
	BeforeID uint
	AfterID  uint
	Limit    int
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.Message, error)
	AdvanceStatus(ctx context.Context, ids []uint, to models.MessageStatus, at time.Time) ([]models.StatusChange, error)
	UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error
	DeleteReaction(ctx context.Context, messageID, userID uint) (bool, error)
	HideForUser(ctx context.Context, messageID, userID uint) error
	IsHiddenFor(ctx context.Context, messageID, userID uint) (bool, error)
	MarkDeletedForEveryone(ctx context.Context, id uint, at time.Time) (bool, error)
	History(ctx context.Context, viewerID uint, conv models.Receiver, q HistoryQuery) ([]models.Message, error)
	CountUnread(ctx context.Context, userID uint, conv models.Receiver) (int64, error)
	UnreadDirectBySender(ctx context.Context, userID uint) (map[uint]int64, error)
	UnreadByGroup(ctx context.Context, userID uint, groupIDs []uint) (map[uint]int64, error)
	LatestDirectPerPeer(ctx context.Context, userID uint) ([]models.Message, error)
	LatestPerGroup(ctx context.Context, userID uint, groupIDs []uint) ([]models.Message, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("messages")}
}

var unreadStatuses = []models.MessageStatus{models.StatusSent, models.StatusDelivered}

const notHiddenFor = "NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = messages.id AND d.user_id = ?)"

func orderedReactions(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, user_id ASC")
}

// Create persists msg and, for group messages, bumps the group counters in
// the same transaction.
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("create", "messages")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Reactions").Create(msg).Error; err != nil {
			return err
		}
		if !msg.Receiver.IsGroup() {
			return nil
		}
		return tx.Model(&models.Group{}).
			Where("id = ?", msg.Receiver.ID).
			UpdateColumns(map[string]interface{}{
				"message_count": gorm.Expr("message_count + 1"),
				"last_activity": gorm.Expr("CASE WHEN last_activity IS NULL OR last_activity < ? THEN ? ELSE last_activity END", msg.CreatedAt, msg.CreatedAt),
				"last_message_id": gorm.Expr("CASE WHEN last_message_id IS NULL OR last_message_id < ? THEN ? ELSE last_message_id END", msg.ID, msg.ID),
			}).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}

	observability.MessagesPersisted.WithLabelValues(string(msg.Type), string(msg.Receiver.Kind)).Inc()
	r.log.LogWrite(ctx, "create", map[string]interface{}{"message_id": msg.ID, "sender_id": msg.SenderID})
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions", orderedReactions).
		First(&msg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

func (r *messageRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.Message, error) {
	var msgs []models.Message
	if len(ids) == 0 {
		return msgs, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", lo.Uniq(ids)).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

// AdvanceStatus moves the given messages to status to, but only those whose
// current status is a predecessor of to. Candidate rows are locked before the
// update so the returned changes are exactly the rows that moved.
func (r *messageRepository) AdvanceStatus(ctx context.Context, ids []uint, to models.MessageStatus, at time.Time) ([]models.StatusChange, error) {
	preds := to.Predecessors()
	if len(ids) == 0 || len(preds) == 0 {
		return nil, nil
	}
	defer observability.TrackQuery("advance_status", "messages")()

	updates := map[string]interface{}{"status": to}
	switch to {
	case models.StatusDelivered:
		updates["delivered_at"] = gorm.Expr("COALESCE(delivered_at, ?)", at)
	case models.StatusRead:
		updates["delivered_at"] = gorm.Expr("COALESCE(delivered_at, ?)", at)
		updates["read_at"] = gorm.Expr("COALESCE(read_at, ?)", at)
	}

	var moved []models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "sender_id", "receiver_kind", "receiver_id").
			Where("id IN ? AND status IN ?", lo.Uniq(ids), preds).
			Order("id ASC").
			Find(&moved).Error
		if err != nil || len(moved) == 0 {
			return err
		}
		movedIDs := lo.Map(moved, func(m models.Message, _ int) uint { return m.ID })
		return tx.Model(&models.Message{}).
			Where("id IN ? AND status IN ?", movedIDs, preds).
			Updates(updates).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "advance_status")
		return nil, models.NewInternalError(err)
	}

	if len(moved) > 0 {
		observability.StatusTransitions.WithLabelValues(string(to)).Add(float64(len(moved)))
	}
	return lo.Map(moved, func(m models.Message, _ int) models.StatusChange {
		return models.StatusChange{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			Receiver:  m.Receiver,
			Status:    to,
			At:        at,
		}
	}), nil
}

// UpsertReaction stores reaction, replacing the user's previous emoji.
func (r *messageRepository) UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
	}).Create(reaction).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) DeleteReaction(ctx context.Context, messageID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.MessageReaction{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepository) HideForUser(ctx context.Context, messageID, userID uint) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MessageDeletion{MessageID: messageID, UserID: userID}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) IsHiddenFor(ctx context.Context, messageID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MessageDeletion{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// MarkDeletedForEveryone flags the message once. It reports false when it was
// already flagged.
func (r *messageRepository) MarkDeletedForEveryone(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"is_deleted":         true,
			"deleted_for_all_at": at,
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// conversationScope restricts a query to the conversation conv as seen by viewerID.
func conversationScope(viewerID uint, conv models.Receiver) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if conv.IsGroup() {
			return db.Where("receiver_kind = ? AND receiver_id = ?", models.ReceiverGroup, conv.ID)
		}
		return db.Where("receiver_kind = ?", models.ReceiverUser).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				viewerID, conv.ID, conv.ID, viewerID)
	}
}

func (r *messageRepository) cursorTime(ctx context.Context, db *gorm.DB, id uint) (time.Time, error) {
	var cursor models.Message
	if err := db.WithContext(ctx).Select("id", "created_at").First(&cursor, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, models.NewNotFoundError("Message", id)
		}
		return time.Time{}, models.NewInternalError(err)
	}
	return cursor.CreatedAt, nil
}

// History returns up to q.Limit messages of conv in chronological order,
// skipping rows viewerID deleted for themselves.
func (r *messageRepository) History(ctx context.Context, viewerID uint, conv models.Receiver, q HistoryQuery) ([]models.Message, error) {
	defer observability.TrackQuery("history", "messages")()

	db := readDB(r.db)
	query := db.WithContext(ctx).
		Scopes(conversationScope(viewerID, conv)).
		Where(notHiddenFor, viewerID).
		Preload("Reactions", orderedReactions).
		Limit(q.Limit)

	ascending := false
	switch {
	case q.AfterID != 0:
		at, err := r.cursorTime(ctx, db, q.AfterID)
		if err != nil {
			return nil, err
		}
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", at, at, q.AfterID).
			Order("created_at ASC, id ASC")
		ascending = true
	case q.BeforeID != 0:
		at, err := r.cursorTime(ctx, db, q.BeforeID)
		if err != nil {
			return nil, err
		}
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, q.BeforeID).
			Order("created_at DESC, id DESC")
	default:
		query = query.Order("created_at DESC, id DESC")
	}

	var msgs []models.Message
	if err := query.Find(&msgs).Error; err != nil {
		r.log.LogError(ctx, err, "history")
		return nil, models.NewInternalError(err)
	}
	if !ascending {
		msgs = lo.Reverse(msgs)
	}
	return msgs, nil
}

// CountUnread counts messages addressed to userID in conv that are not yet read.
func (r *messageRepository) CountUnread(ctx context.Context, userID uint, conv models.Receiver) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("status IN ?", unreadStatuses).
		Where(notHiddenFor, userID)
	if conv.IsGroup() {
		query = query.Where("receiver_kind = ? AND receiver_id = ? AND sender_id <> ?", models.ReceiverGroup, conv.ID, userID)
	} else {
		query = query.Where("receiver_kind = ? AND receiver_id = ? AND sender_id = ?", models.ReceiverUser, userID, conv.ID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

type unreadRow struct {
	BucketID uint
	Unread   int64
}

func toCountMap(rows []unreadRow) map[uint]int64 {
	out := make(map[uint]int64, len(rows))
	for _, row := range rows {
		out[row.BucketID] = row.Unread
	}
	return out
}

// UnreadDirectBySender maps each sender to the number of unread direct
// messages they sent to userID.
func (r *messageRepository) UnreadDirectBySender(ctx context.Context, userID uint) (map[uint]int64, error) {
	var rows []unreadRow
	err := readDB(r.db).WithContext(ctx).Model(&models.Message{}).
		Select("sender_id AS bucket_id, COUNT(*) AS unread").
		Where("receiver_kind = ? AND receiver_id = ? AND status IN ?", models.ReceiverUser, userID, unreadStatuses).
		Where(notHiddenFor, userID).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return toCountMap(rows), nil
}

// UnreadByGroup maps each group to the number of unread messages other
// members posted there.
func (r *messageRepository) UnreadByGroup(ctx context.Context, userID uint, groupIDs []uint) (map[uint]int64, error) {
	if len(groupIDs) == 0 {
		return map[uint]int64{}, nil
	}
	var rows []unreadRow
	err := readDB(r.db).WithContext(ctx).Model(&models.Message{}).
		Select("receiver_id AS bucket_id, COUNT(*) AS unread").
		Where("receiver_kind = ? AND receiver_id IN ? AND sender_id <> ? AND status IN ?",
			models.ReceiverGroup, groupIDs, userID, unreadStatuses).
		Where(notHiddenFor, userID).
		Group("receiver_id").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return toCountMap(rows), nil
}

const latestDirectSQL = `
SELECT id FROM (
	SELECT messages.id, ROW_NUMBER() OVER (
		PARTITION BY CASE WHEN messages.sender_id = @me THEN messages.receiver_id ELSE messages.sender_id END
		ORDER BY messages.created_at DESC, messages.id DESC
	) AS rn
	FROM messages
	WHERE messages.receiver_kind = @kind
	  AND (messages.sender_id = @me OR messages.receiver_id = @me)
	  AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = messages.id AND d.user_id = @me)
) ranked WHERE rn = 1`

const latestGroupSQL = `
SELECT id FROM (
	SELECT messages.id, ROW_NUMBER() OVER (
		PARTITION BY messages.receiver_id
		ORDER BY messages.created_at DESC, messages.id DESC
	) AS rn
	FROM messages
	WHERE messages.receiver_kind = @kind
	  AND messages.receiver_id IN @groups
	  AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = messages.id AND d.user_id = @me)
) ranked WHERE rn = 1`

func (r *messageRepository) latest(ctx context.Context, op, query string, args map[string]interface{}) ([]models.Message, error) {
	defer observability.TrackQuery(op, "messages")()

	db := readDB(r.db)
	var ids []uint
	if err := db.WithContext(ctx).Raw(query, args).Scan(&ids).Error; err != nil {
		r.log.LogError(ctx, err, op)
		return nil, models.NewInternalError(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var msgs []models.Message
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

// LatestDirectPerPeer returns the newest visible direct message with each peer.
func (r *messageRepository) LatestDirectPerPeer(ctx context.Context, userID uint) ([]models.Message, error) {
	return r.latest(ctx, "latest_direct", latestDirectSQL, map[string]interface{}{
		"me":   userID,
		"kind": models.ReceiverUser,
	})
}

// LatestPerGroup returns the newest message userID can see in each group.
func (r *messageRepository) LatestPerGroup(ctx context.Context, userID uint, groupIDs []uint) ([]models.Message, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	return r.latest(ctx, "latest_group", latestGroupSQL, map[string]interface{}{
		"me":     userID,
		"kind":   models.ReceiverGroup,
		"groups": groupIDs,
	})
}
