package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SqliteGoChatRepository is a GORM-backed SQLite implementation of
// GoChatRepository, used for local development and tests.
type SqliteGoChatRepository struct {
	db *gorm.DB
}

type accountModel struct {
	ID            int     `gorm:"primaryKey;autoIncrement"`
	Username      string  `gorm:"uniqueIndex;not null"`
	Email         string  `gorm:"uniqueIndex;not null"`
	PasswordHash  string  `gorm:"not null"`
	Bio           string  `gorm:"not null;default:''"`
	Avatar        string  `gorm:"not null;default:''"`
	Role          string  `gorm:"not null;default:'user'"`
	CurrentRoomID *string `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (accountModel) TableName() string { return "accounts" }

type roomModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string `gorm:"not null;default:''"`
	CreatedBy   *int
	CreatedAt   time.Time
}

func (roomModel) TableName() string { return "rooms" }

type occupantModel struct {
	RoomID    string `gorm:"primaryKey"`
	AccountID int    `gorm:"primaryKey"`
	JoinedAt  time.Time
}

func (occupantModel) TableName() string { return "room_occupants" }

type messageModel struct {
	ID        int    `gorm:"primaryKey;autoIncrement"`
	RoomID    string `gorm:"index:messages_room_id_idx,priority:1;not null"`
	AccountID int    `gorm:"not null"`
	Body      string `gorm:"not null"`
	CreatedAt time.Time
}

func (messageModel) TableName() string { return "messages" }

// NewSqliteGoChatRepository opens the SQLite database at path (":memory:"
// for a throwaway database) and migrates its schema.
func NewSqliteGoChatRepository(path string) (*SqliteGoChatRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer, and every connection to ":memory:"
	// would get its own database.
	sqlDB.SetMaxOpenConns(1)

	repo := &SqliteGoChatRepository{db: db}
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate creates the schema and seeds the default room.
func (s *SqliteGoChatRepository) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&accountModel{}, &roomModel{}, &occupantModel{}, &messageModel{}); err != nil {
		return err
	}

	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&roomModel{
		ID:          DefaultRoomId,
		Name:        DefaultRoomId,
		Description: "Default room",
		CreatedAt:   time.Now().UTC(),
	}).Error
}

func (s *SqliteGoChatRepository) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SqliteGoChatRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}

func (m accountModel) toUser() User {
	return User{
		Id:            m.ID,
		Username:      m.Username,
		EmailAddress:  m.Email,
		PasswordHash:  m.PasswordHash,
		Bio:           m.Bio,
		Avatar:        m.Avatar,
		Role:          m.Role,
		CurrentRoomId: m.CurrentRoomID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (m roomModel) toRoom() Room {
	room := Room{
		Id:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
	if m.CreatedBy != nil {
		room.CreatedBy = *m.CreatedBy
	}
	return room
}

func (s *SqliteGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	model := accountModel{
		Username:      params.Username,
		Email:         params.EmailAddress,
		PasswordHash:  params.PasswordHash,
		Bio:           params.Bio,
		Avatar:        params.Avatar,
		Role:          "user",
		CurrentRoomID: params.CurrentRoomId,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return User{}, sqliteError(err)
	}
	return model.toUser(), nil
}

func (s *SqliteGoChatRepository) UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error) {
	updates := map[string]any{
		"username":   params.Username,
		"bio":        params.Bio,
		"avatar":     params.Avatar,
		"updated_at": time.Now().UTC(),
	}
	if params.PasswordHash != "" {
		updates["password_hash"] = params.PasswordHash
	}

	res := s.db.WithContext(ctx).Model(&accountModel{}).Where("id = ?", params.UserId).Updates(updates)
	if res.Error != nil {
		return User{}, sqliteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return User{}, ErrNotFound
	}

	return s.GetAccountById(ctx, params.UserId)
}

func (s *SqliteGoChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	var model accountModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return User{}, sqliteError(err)
	}
	return model.toUser(), nil
}

func (s *SqliteGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	var model accountModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		return User{}, sqliteError(err)
	}
	return model.toUser(), nil
}

func (s *SqliteGoChatRepository) SetCurrentRoom(ctx context.Context, userId int, roomId *string) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).Where("id = ?", userId).Updates(map[string]any{
		"current_room_id": roomId,
		"updated_at":      time.Now().UTC(),
	})
	if res.Error != nil {
		return sqliteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteGoChatRepository) ClearCurrentRoom(ctx context.Context, userId int, roomId string) error {
	return sqliteError(s.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ? AND current_room_id = ?", userId, roomId).
		Updates(map[string]any{
			"current_room_id": nil,
			"updated_at":      time.Now().UTC(),
		}).Error)
}

func (s *SqliteGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	model := roomModel{
		ID:          params.Id,
		Name:        params.Name,
		Description: params.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if params.CreatedBy > 0 {
		createdBy := params.CreatedBy
		model.CreatedBy = &createdBy
	}

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return Room{}, sqliteError(err)
	}
	return model.toRoom(), nil
}

func (s *SqliteGoChatRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return Room{}, sqliteError(err)
	}
	return model.toRoom(), nil
}

func (s *SqliteGoChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	var models []roomModel
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, sqliteError(err)
	}

	rooms := make([]Room, 0, len(models))
	for _, m := range models {
		rooms = append(rooms, m.toRoom())
	}
	return rooms, nil
}

func (s *SqliteGoChatRepository) UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error) {
	res := s.db.WithContext(ctx).Model(&roomModel{}).Where("id = ?", params.Id).Updates(map[string]any{
		"name":        params.Name,
		"description": params.Description,
	})
	if res.Error != nil {
		return Room{}, sqliteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return Room{}, ErrNotFound
	}
	return s.GetRoom(ctx, params.Id)
}

func (s *SqliteGoChatRepository) DeleteRoom(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&accountModel{}).Where("current_room_id = ?", id).
			Update("current_room_id", nil).Error; err != nil {
			return sqliteError(err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&occupantModel{}).Error; err != nil {
			return sqliteError(err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&messageModel{}).Error; err != nil {
			return sqliteError(err)
		}

		res := tx.Where("id = ?", id).Delete(&roomModel{})
		if res.Error != nil {
			return sqliteError(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SqliteGoChatRepository) AddOccupant(ctx context.Context, roomId string, userId int) error {
	db := s.db.WithContext(ctx)

	// foreign keys are not enforced by default in sqlite
	var count int64
	if err := db.Model(&roomModel{}).Where("id = ?", roomId).Count(&count).Error; err != nil {
		return sqliteError(err)
	}
	if count == 0 {
		return fmt.Errorf("%w: room %q", ErrNotFound, roomId)
	}

	return sqliteError(db.Clauses(clause.OnConflict{DoNothing: true}).Create(&occupantModel{
		RoomID:    roomId,
		AccountID: userId,
		JoinedAt:  time.Now().UTC(),
	}).Error)
}

func (s *SqliteGoChatRepository) RemoveOccupant(ctx context.Context, roomId string, userId int) error {
	return sqliteError(s.db.WithContext(ctx).
		Where("room_id = ? AND account_id = ?", roomId, userId).
		Delete(&occupantModel{}).Error)
}

func (s *SqliteGoChatRepository) ListOccupants(ctx context.Context, roomId string) ([]User, error) {
	var models []accountModel
	err := s.db.WithContext(ctx).
		Joins("JOIN room_occupants o ON o.account_id = accounts.id").
		Where("o.room_id = ?", roomId).
		Order("o.joined_at, accounts.id").
		Find(&models).Error
	if err != nil {
		return nil, sqliteError(err)
	}

	users := make([]User, 0, len(models))
	for _, m := range models {
		users = append(users, m.toUser())
	}
	return users, nil
}

func (s *SqliteGoChatRepository) IsOccupant(ctx context.Context, roomId string, userId int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&occupantModel{}).
		Where("room_id = ? AND account_id = ?", roomId, userId).
		Count(&count).Error
	return count > 0, sqliteError(err)
}

func (s *SqliteGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	model := messageModel{
		RoomID:    params.RoomId,
		AccountID: params.UserId,
		Body:      params.Body,
		CreatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return Message{}, sqliteError(err)
	}

	return Message{
		Id:        model.ID,
		RoomId:    model.RoomID,
		UserId:    model.AccountID,
		Body:      model.Body,
		CreatedAt: model.CreatedAt,
	}, nil
}

type messageRow struct {
	ID        int
	RoomID    string
	AccountID int
	Body      string
	Username  string
	Avatar    string
	CreatedAt time.Time
}

func (r messageRow) toMessage() Message {
	return Message{
		Id:             r.ID,
		RoomId:         r.RoomID,
		UserId:         r.AccountID,
		Body:           r.Body,
		AuthorUsername: r.Username,
		AuthorAvatar:   r.Avatar,
		CreatedAt:      r.CreatedAt,
	}
}

func (s *SqliteGoChatRepository) messageQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("messages m").
		Select("m.id, m.room_id, m.account_id, m.body, a.username, a.avatar, m.created_at").
		Joins("JOIN accounts a ON a.id = m.account_id")
}

func (s *SqliteGoChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	var rows []messageRow
	if err := s.messageQuery(ctx).Where("m.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return Message{}, sqliteError(err)
	}
	if len(rows) == 0 {
		return Message{}, ErrNotFound
	}
	return rows[0].toMessage(), nil
}

func (s *SqliteGoChatRepository) GetMessages(ctx context.Context, roomId string, before, limit int) ([]Message, error) {
	q := s.messageQuery(ctx).Where("m.room_id = ?", roomId)
	if before > 0 {
		q = q.Where("m.id < ?", before)
	}

	var rows []messageRow
	if err := q.Order("m.id DESC").Limit(clampLimit(limit)).Scan(&rows).Error; err != nil {
		return nil, sqliteError(err)
	}

	messages := make([]Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toMessage())
	}
	reverseMessages(messages)
	return messages, nil
}

func (s *SqliteGoChatRepository) DeleteMessage(ctx context.Context, id int) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&messageModel{})
	if res.Error != nil {
		return sqliteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
