package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	accountColumns = "id, username, email, password_hash, bio, avatar, role, current_room_id, created_at, updated_at"
)

type PgGoChatRepository struct {
	conn *sql.DB
}

func NewPgGoChatRepository(dsn string) (*PgGoChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgGoChatRepository{conn: db}, nil
}

// DB exposes the underlying handle, used to run migrations.
func (db *PgGoChatRepository) DB() *sql.DB {
	return db.conn
}

func (db *PgGoChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgGoChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// pgError maps driver errors onto the repository sentinels.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
		}
	}

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u           User
		currentRoom sql.NullString
	)
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.Bio,
		&u.Avatar,
		&u.Role,
		&currentRoom,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	if currentRoom.Valid {
		u.CurrentRoomId = &currentRoom.String
	}

	return u, nil
}

func (db *PgGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, bio, avatar, current_room_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		params.Bio,
		params.Avatar,
		params.CurrentRoomId,
		now,
	)

	u, err := scanUser(row)
	return u, pgError(err)
}

func (db *PgGoChatRepository) UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE accounts SET username = $2, bio = $3, avatar = $4, "+
			"password_hash = COALESCE(NULLIF($5, ''), password_hash), updated_at = $6 "+
			"WHERE id = $1 RETURNING "+accountColumns,
		params.UserId,
		params.Username,
		params.Bio,
		params.Avatar,
		params.PasswordHash,
		time.Now().UTC(),
	)

	u, err := scanUser(row)
	return u, pgError(err)
}

func (db *PgGoChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	u, err := scanUser(row)
	return u, pgError(err)
}

func (db *PgGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	u, err := scanUser(row)
	return u, pgError(err)
}

func (db *PgGoChatRepository) SetCurrentRoom(ctx context.Context, userId int, roomId *string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET current_room_id = $2, updated_at = $3 WHERE id = $1",
		userId,
		roomId,
		time.Now().UTC(),
	)
	if err != nil {
		return pgError(err)
	}

	return expectAffected(res)
}

func (db *PgGoChatRepository) ClearCurrentRoom(ctx context.Context, userId int, roomId string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET current_room_id = NULL, updated_at = $3 WHERE id = $1 AND current_room_id = $2",
		userId,
		roomId,
		time.Now().UTC(),
	)

	return pgError(err)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRoom(row rowScanner) (Room, error) {
	var (
		room      Room
		createdBy sql.NullInt64
	)
	if err := row.Scan(&room.Id, &room.Name, &room.Description, &createdBy, &room.CreatedAt); err != nil {
		return Room{}, err
	}
	room.CreatedBy = int(createdBy.Int64)
	return room, nil
}

func nullableId(id int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id > 0}
}

func (db *PgGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (id, name, description, created_by, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, name, description, created_by, created_at",
		params.Id,
		params.Name,
		params.Description,
		nullableId(params.CreatedBy),
		time.Now().UTC(),
	)

	room, err := scanRoom(row)
	return room, pgError(err)
}

func (db *PgGoChatRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, description, created_by, created_at FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	room, err := scanRoom(row)
	return room, pgError(err)
}

func (db *PgGoChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, name, description, created_by, created_at FROM rooms ORDER BY created_at, id",
	)
	if err != nil {
		return nil, pgError(err)
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgGoChatRepository) UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE rooms SET name = $2, description = $3 WHERE id = $1 "+
			"RETURNING id, name, description, created_by, created_at",
		params.Id,
		params.Name,
		params.Description,
	)

	room, err := scanRoom(row)
	return room, pgError(err)
}

func (db *PgGoChatRepository) DeleteRoom(ctx context.Context, id string) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "UPDATE accounts SET current_room_id = NULL WHERE current_room_id = $1", id); err != nil {
		return pgError(err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM room_occupants WHERE room_id = $1", id); err != nil {
		return pgError(err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE room_id = $1", id); err != nil {
		return pgError(err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return pgError(err)
	}
	if err = expectAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgGoChatRepository) AddOccupant(ctx context.Context, roomId string, userId int) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO room_occupants (room_id, account_id, joined_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id, account_id) DO NOTHING",
		roomId,
		userId,
		time.Now().UTC(),
	)

	return pgError(err)
}

func (db *PgGoChatRepository) RemoveOccupant(ctx context.Context, roomId string, userId int) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM room_occupants WHERE room_id = $1 AND account_id = $2",
		roomId,
		userId,
	)

	return pgError(err)
}

func (db *PgGoChatRepository) ListOccupants(ctx context.Context, roomId string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT a.id, a.username, a.email, a.password_hash, a.bio, a.avatar, a.role, a.current_room_id, a.created_at, a.updated_at "+
			"FROM room_occupants o JOIN accounts a ON a.id = o.account_id "+
			"WHERE o.room_id = $1 ORDER BY o.joined_at, a.id",
		roomId,
	)
	if err != nil {
		return nil, pgError(err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occupant: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgGoChatRepository) IsOccupant(ctx context.Context, roomId string, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_occupants WHERE room_id = $1 AND account_id = $2)",
		roomId,
		userId,
	).Scan(&exists)

	return exists, pgError(err)
}

func (db *PgGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	msg := Message{
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Body:      params.Body,
		CreatedAt: createdAt,
	}
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, account_id, body, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		params.RoomId,
		params.UserId,
		params.Body,
		createdAt,
	).Scan(&msg.Id)
	if err != nil {
		return Message{}, pgError(err)
	}

	return msg, nil
}

const messageColumns = "m.id, m.room_id, m.account_id, m.body, a.username, a.avatar, m.created_at"

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.UserId,
		&msg.Body,
		&msg.AuthorUsername,
		&msg.AuthorAvatar,
		&msg.CreatedAt,
	)
	return msg, err
}

func (db *PgGoChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m JOIN accounts a ON a.id = m.account_id WHERE m.id = $1",
		id,
	)

	msg, err := scanMessage(row)
	return msg, pgError(err)
}

// GetMessages returns up to limit messages of a room with an id lower than
// before (if before > 0), oldest first.
func (db *PgGoChatRepository) GetMessages(ctx context.Context, roomId string, before, limit int) ([]Message, error) {
	upper := 1<<31 - 1
	if before > 0 {
		upper = before
	}

	limit = clampLimit(limit)
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.room_id = $1 AND m.id < $2 ORDER BY m.id DESC LIMIT $3",
		roomId,
		upper,
		limit,
	)
	if err != nil {
		return nil, pgError(err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverseMessages(messages)
	return messages, nil
}

func (db *PgGoChatRepository) DeleteMessage(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return pgError(err)
	}

	return expectAffected(res)
}
