package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"lessonhub/pkg/domain"
)

const migrateLockID int64 = 51730417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&InstructorModel{},
			&CustomerModel{},
			&ConversationModel{},
			&MessageModel{},
			&SnapshotModel{},
			&DraftModel{},
			&SummaryModel{},
			&BookingModel{},
			&BookingAuditModel{},
			&AuditModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return NewGormStoreWithDB(db), nil
}

// NewGormStoreWithDB wraps an already migrated connection.
func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveInstructor registers or updates an instructor.
func (s *GormStore) SaveInstructor(ctx context.Context, in domain.Instructor) error {
	model := instructorToModel(in)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "onboarded"}),
	}).Create(&model).Error
}

func (s *GormStore) GetInstructor(ctx context.Context, id string) (domain.Instructor, bool, error) {
	var m InstructorModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Instructor{}, false, nil
		}
		return domain.Instructor{}, false, err
	}
	return instructorFromModel(m), true, nil
}

// SaveCustomer inserts a customer or refreshes its display name.
func (s *GormStore) SaveCustomer(ctx context.Context, c domain.Customer) error {
	model := customerToModel(c)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

func (s *GormStore) GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error) {
	var m CustomerModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Customer{}, false, nil
		}
		return domain.Customer{}, false, err
	}
	return customerFromModel(m), true, nil
}

func (s *GormStore) FindCustomerByIdentity(ctx context.Context, ownerID string, channel domain.Channel, externalIdentity string) (domain.Customer, bool, error) {
	var m CustomerModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND channel = ? AND external_identity = ?", ownerID, string(channel), externalIdentity).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Customer{}, false, nil
		}
		return domain.Customer{}, false, err
	}
	return customerFromModel(m), true, nil
}

// ResolveConversation inserts candidate unless a conversation with the same
// (owner, channel, identity) exists, and returns the stored row either way.
func (s *GormStore) ResolveConversation(ctx context.Context, candidate domain.Conversation) (domain.Conversation, bool, error) {
	model := conversationToModel(candidate)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "channel"}, {Name: "external_identity"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Conversation{}, false, fmt.Errorf("insert conversation: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return conversationFromModel(model), true, nil
	}
	var existing ConversationModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND channel = ? AND external_identity = ?", candidate.OwnerID, string(candidate.Channel), candidate.ExternalIdentity).
		First(&existing).Error
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("load conversation: %w", err)
	}
	return conversationFromModel(existing), false, nil
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var m ConversationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(m), true, nil
}

func (s *GormStore) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) (domain.Conversation, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if update.CustomerID != nil {
		updates["customer_id"] = *update.CustomerID
	}
	if update.Status != nil {
		updates["status"] = string(*update.Status)
	}
	if update.AIState != nil {
		updates["ai_state"] = string(*update.AIState)
	}
	if update.LastMessageAt != nil {
		updates["last_message_at"] = update.LastMessageAt.UTC()
	}
	res := s.db.WithContext(ctx).Model(&ConversationModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.Conversation{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	conv, _, err := s.GetConversation(ctx, id)
	return conv, err
}

// InsertInboundMessage stores msg unless a message with the same external id
// already exists in the conversation. The stored row is returned either way.
func (s *GormStore) InsertInboundMessage(ctx context.Context, msg domain.Message) (domain.Message, bool, error) {
	model := messageToModel(msg)
	if msg.ExternalMessageID == nil {
		if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
			return domain.Message{}, false, fmt.Errorf("insert message: %w", err)
		}
		return messageFromModel(model), true, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "external_message_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Message{}, false, fmt.Errorf("insert message: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return messageFromModel(model), true, nil
	}
	existing, ok, err := s.GetMessageByExternalID(ctx, msg.ConversationID, *msg.ExternalMessageID)
	if err != nil {
		return domain.Message{}, false, err
	}
	if !ok {
		return domain.Message{}, false, ErrConflict
	}
	return existing, false, nil
}

func (s *GormStore) GetMessageByExternalID(ctx context.Context, conversationID, externalMessageID string) (domain.Message, bool, error) {
	var m MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND external_message_id = ?", conversationID, externalMessageID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(m), true, nil
}

// ListRecentMessages returns up to limit newest messages, oldest first.
func (s *GormStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").
		Limit(clampLimit(limit)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Message, len(models))
	for i := range models {
		out[len(models)-1-i] = messageFromModel(models[i])
	}
	return out, nil
}

func (s *GormStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveSnapshot writes the first snapshot for a message. Later writes for the
// same message return the stored snapshot unchanged.
func (s *GormStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	model := snapshotToModel(snap)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Snapshot{}, fmt.Errorf("insert snapshot: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return snapshotFromModel(model), nil
	}
	existing, ok, err := s.GetSnapshotByMessage(ctx, snap.MessageID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !ok {
		return domain.Snapshot{}, ErrConflict
	}
	return existing, nil
}

func (s *GormStore) GetSnapshotByMessage(ctx context.Context, messageID string) (domain.Snapshot, bool, error) {
	var m SnapshotModel
	if err := s.db.WithContext(ctx).First(&m, "message_id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Snapshot{}, false, nil
		}
		return domain.Snapshot{}, false, err
	}
	return snapshotFromModel(m), true, nil
}

func (s *GormStore) CreateDraft(ctx context.Context, d domain.Draft) error {
	model, err := draftToModel(d)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetDraft(ctx context.Context, id string) (domain.Draft, bool, error) {
	var m DraftModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Draft{}, false, nil
		}
		return domain.Draft{}, false, err
	}
	d, err := draftFromModel(m)
	return d, err == nil, err
}

// LatestDraft returns the newest draft of the conversation in any state.
func (s *GormStore) LatestDraft(ctx context.Context, conversationID string) (domain.Draft, bool, error) {
	var m DraftModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").Order("id desc").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Draft{}, false, nil
		}
		return domain.Draft{}, false, err
	}
	d, err := draftFromModel(m)
	return d, err == nil, err
}

// SetDraftState moves a draft from one state to another. A draft that is no
// longer in from yields ErrConflict.
func (s *GormStore) SetDraftState(ctx context.Context, id string, from, to domain.DraftState) error {
	res := s.db.WithContext(ctx).Model(&DraftModel{}).
		Where("id = ? AND state = ?", id, string(from)).
		Update("state", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, ok, err := s.GetDraft(ctx, id); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *GormStore) GetSummary(ctx context.Context, conversationID string) (domain.Summary, bool, error) {
	var m SummaryModel
	if err := s.db.WithContext(ctx).First(&m, "conversation_id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Summary{}, false, nil
		}
		return domain.Summary{}, false, err
	}
	sum, err := summaryFromModel(m)
	return sum, err == nil, err
}

// UpsertSummary replaces the conversation summary and bumps its version.
func (s *GormStore) UpsertSummary(ctx context.Context, sum domain.Summary) (domain.Summary, error) {
	var saved domain.Summary
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SummaryModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "conversation_id = ?", sum.ConversationID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sum.Version = 1
		case err != nil:
			return err
		default:
			sum.Version = existing.Version + 1
		}
		if sum.UpdatedAt.IsZero() {
			sum.UpdatedAt = time.Now().UTC()
		}
		model, err := summaryToModel(sum)
		if err != nil {
			return err
		}
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		saved = sum
		return nil
	})
	if err != nil {
		return domain.Summary{}, fmt.Errorf("upsert summary: %w", err)
	}
	return saved, nil
}

func (s *GormStore) CreateBooking(ctx context.Context, b domain.Booking) error {
	model := bookingToModel(b)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetBooking(ctx context.Context, id string) (domain.Booking, bool, error) {
	var m BookingModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Booking{}, false, nil
		}
		return domain.Booking{}, false, err
	}
	return bookingFromModel(m), true, nil
}

// UpdateBooking locks the booking row, applies mutate and persists the result
// together with the returned audit entries. Errors from mutate are returned
// unwrapped so callers can match their own sentinels.
func (s *GormStore) UpdateBooking(ctx context.Context, id string, mutate BookingMutation) (domain.Booking, error) {
	var updated domain.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m BookingModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		current := bookingFromModel(m)
		entries, err := mutate(&current)
		if err != nil {
			return err
		}
		current.ID = m.ID
		current.UpdatedAt = time.Now().UTC()
		next := bookingToModel(current)
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			audit := bookingAuditToModel(entry)
			if err := tx.Create(&audit).Error; err != nil {
				return err
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return updated, nil
}

// ListCustomerBookings returns the customer's bookings starting in [from, to).
func (s *GormStore) ListCustomerBookings(ctx context.Context, ownerID, customerID string, from, to time.Time) ([]domain.Booking, error) {
	var models []BookingModel
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND customer_id = ? AND start_time >= ? AND start_time < ?", ownerID, customerID, from.UTC(), to.UTC()).
		Order("start_time asc").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Booking, 0, len(models))
	for _, m := range models {
		out = append(out, bookingFromModel(m))
	}
	return out, nil
}

func (s *GormStore) ListBookingsSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]domain.Booking, error) {
	var models []BookingModel
	q := s.db.WithContext(ctx).Where("updated_at >= ?", since.UTC())
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Order("updated_at asc").Limit(clampLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Booking, 0, len(models))
	for _, m := range models {
		out = append(out, bookingFromModel(m))
	}
	return out, nil
}

func (s *GormStore) ListBookingAudit(ctx context.Context, bookingID string) ([]domain.BookingAuditEntry, error) {
	var models []BookingAuditModel
	if err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at asc").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.BookingAuditEntry, 0, len(models))
	for _, m := range models {
		out = append(out, bookingAuditFromModel(m))
	}
	return out, nil
}

func (s *GormStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	model, err := auditToModel(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListAuditSince(ctx context.Context, since time.Time, limit int) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, s.db.WithContext(ctx).Where("created_at >= ?", since.UTC()), limit)
}

func (s *GormStore) ListEntityAuditSince(ctx context.Context, entityType, entityID string, since time.Time, limit int) ([]domain.AuditEntry, error) {
	q := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND created_at >= ?", entityType, entityID, since.UTC())
	return s.listAudit(ctx, q, limit)
}

func (s *GormStore) listAudit(_ context.Context, q *gorm.DB, limit int) ([]domain.AuditEntry, error) {
	var models []AuditModel
	if err := q.Order("created_at asc").Limit(clampLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(models))
	for _, m := range models {
		entry, err := auditFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func instructorToModel(in domain.Instructor) InstructorModel {
	return InstructorModel{
		ID:        in.ID,
		Name:      in.Name,
		Onboarded: in.Onboarded,
		CreatedAt: in.CreatedAt,
	}
}

func instructorFromModel(m InstructorModel) domain.Instructor {
	return domain.Instructor{
		ID:        m.ID,
		Name:      m.Name,
		Onboarded: m.Onboarded,
		CreatedAt: m.CreatedAt,
	}
}

func customerToModel(c domain.Customer) CustomerModel {
	return CustomerModel{
		ID:               c.ID,
		OwnerID:          c.OwnerID,
		Name:             c.Name,
		Channel:          string(c.Channel),
		ExternalIdentity: c.ExternalIdentity,
		CreatedAt:        c.CreatedAt,
	}
}

func customerFromModel(m CustomerModel) domain.Customer {
	return domain.Customer{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Name:             m.Name,
		Channel:          domain.Channel(m.Channel),
		ExternalIdentity: m.ExternalIdentity,
		CreatedAt:        m.CreatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:               c.ID,
		OwnerID:          c.OwnerID,
		Channel:          string(c.Channel),
		ExternalIdentity: c.ExternalIdentity,
		CustomerID:       c.CustomerID,
		Status:           string(c.Status),
		AIState:          string(c.AIState),
		LastMessageAt:    c.LastMessageAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Channel:          domain.Channel(m.Channel),
		ExternalIdentity: m.ExternalIdentity,
		CustomerID:       m.CustomerID,
		Status:           domain.ConversationStatus(m.Status),
		AIState:          domain.AIState(m.AIState),
		LastMessageAt:    m.LastMessageAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		Direction:         string(msg.Direction),
		ExternalMessageID: msg.ExternalMessageID,
		SenderIdentity:    msg.SenderIdentity,
		Text:              msg.Text,
		RawPayloadKey:     msg.RawPayloadKey,
		CreatedAt:         msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		Direction:         domain.Direction(m.Direction),
		ExternalMessageID: m.ExternalMessageID,
		SenderIdentity:    m.SenderIdentity,
		Text:              m.Text,
		RawPayloadKey:     m.RawPayloadKey,
		CreatedAt:         m.CreatedAt,
	}
}

func snapshotToModel(s domain.Snapshot) SnapshotModel {
	var intent *string
	if s.Intent != nil {
		v := string(*s.Intent)
		intent = &v
	}
	return SnapshotModel{
		ID:                  s.ID,
		MessageID:           s.MessageID,
		ConversationID:      s.ConversationID,
		Relevant:            s.Relevant,
		RelevanceConfidence: s.RelevanceConfidence,
		Intent:              intent,
		IntentConfidence:    s.IntentConfidence,
		Model:               s.Model,
		CreatedAt:           s.CreatedAt,
	}
}

func snapshotFromModel(m SnapshotModel) domain.Snapshot {
	var intent *domain.Intent
	if m.Intent != nil {
		v := domain.Intent(*m.Intent)
		intent = &v
	}
	return domain.Snapshot{
		ID:                  m.ID,
		MessageID:           m.MessageID,
		ConversationID:      m.ConversationID,
		Relevant:            m.Relevant,
		RelevanceConfidence: m.RelevanceConfidence,
		Intent:              intent,
		IntentConfidence:    m.IntentConfidence,
		Model:               m.Model,
		CreatedAt:           m.CreatedAt,
	}
}

func draftToModel(d domain.Draft) (DraftModel, error) {
	var actions datatypes.JSON
	if len(d.SuggestedActions) > 0 {
		raw, err := json.Marshal(d.SuggestedActions)
		if err != nil {
			return DraftModel{}, fmt.Errorf("encode suggested actions: %w", err)
		}
		actions = datatypes.JSON(raw)
	}
	return DraftModel{
		ID:               d.ID,
		ConversationID:   d.ConversationID,
		MessageID:        d.MessageID,
		Text:             d.Text,
		State:            string(d.State),
		SuggestedActions: actions,
		ConfidenceBand:   d.ConfidenceBand,
		Language:         d.Language,
		CreatedAt:        d.CreatedAt,
	}, nil
}

func draftFromModel(m DraftModel) (domain.Draft, error) {
	d := domain.Draft{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		Text:           m.Text,
		State:          domain.DraftState(m.State),
		ConfidenceBand: m.ConfidenceBand,
		Language:       m.Language,
		CreatedAt:      m.CreatedAt,
	}
	if len(m.SuggestedActions) > 0 {
		if err := json.Unmarshal(m.SuggestedActions, &d.SuggestedActions); err != nil {
			return domain.Draft{}, fmt.Errorf("decode suggested actions: %w", err)
		}
	}
	return d, nil
}

func summaryToModel(s domain.Summary) (SummaryModel, error) {
	facts, err := json.Marshal(s.Facts)
	if err != nil {
		return SummaryModel{}, fmt.Errorf("encode summary facts: %w", err)
	}
	return SummaryModel{
		ConversationID: s.ConversationID,
		Text:           s.Text,
		Facts:          datatypes.JSON(facts),
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}, nil
}

func summaryFromModel(m SummaryModel) (domain.Summary, error) {
	s := domain.Summary{
		ConversationID: m.ConversationID,
		Text:           m.Text,
		Version:        m.Version,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.Facts) > 0 {
		if err := json.Unmarshal(m.Facts, &s.Facts); err != nil {
			return domain.Summary{}, fmt.Errorf("decode summary facts: %w", err)
		}
	}
	return s, nil
}

func bookingToModel(b domain.Booking) BookingModel {
	return BookingModel{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		CustomerID:   b.CustomerID,
		Status:       string(b.Status),
		StartTime:    b.StartTime.UTC(),
		EndTime:      b.EndTime.UTC(),
		CustomerName: b.CustomerName,
		Notes:        b.Notes,
		MeetingPoint: b.MeetingPoint,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func bookingFromModel(m BookingModel) domain.Booking {
	return domain.Booking{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		CustomerID:   m.CustomerID,
		Status:       domain.BookingStatus(m.Status),
		StartTime:    m.StartTime,
		EndTime:      m.EndTime,
		CustomerName: m.CustomerName,
		Notes:        m.Notes,
		MeetingPoint: m.MeetingPoint,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookingAuditToModel(e domain.BookingAuditEntry) BookingAuditModel {
	return BookingAuditModel{
		ID:            e.ID,
		BookingID:     e.BookingID,
		PreviousState: string(e.PreviousState),
		NewState:      string(e.NewState),
		Actor:         string(e.Actor),
		CreatedAt:     e.CreatedAt,
	}
}

func bookingAuditFromModel(m BookingAuditModel) domain.BookingAuditEntry {
	return domain.BookingAuditEntry{
		ID:            m.ID,
		BookingID:     m.BookingID,
		PreviousState: domain.BookingStatus(m.PreviousState),
		NewState:      domain.BookingStatus(m.NewState),
		Actor:         domain.Actor(m.Actor),
		CreatedAt:     m.CreatedAt,
	}
}

func auditToModel(e domain.AuditEntry) (AuditModel, error) {
	var payload datatypes.JSON
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return AuditModel{}, fmt.Errorf("encode audit payload: %w", err)
		}
		payload = datatypes.JSON(raw)
	}
	return AuditModel{
		ID:         e.ID,
		ActorType:  string(e.ActorType),
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Severity:   string(e.Severity),
		Payload:    payload,
		CreatedAt:  e.CreatedAt,
	}, nil
}

func auditFromModel(m AuditModel) (domain.AuditEntry, error) {
	e := domain.AuditEntry{
		ID:         m.ID,
		ActorType:  domain.Actor(m.ActorType),
		ActorID:    m.ActorID,
		Action:     m.Action,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Severity:   domain.Severity(m.Severity),
		CreatedAt:  m.CreatedAt,
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &e.Payload); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("decode audit payload: %w", err)
		}
	}
	return e, nil
}
