package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-chatrooms/internal/auth"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/server"
	"github.com/npezzotti/go-chatrooms/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UpdateAccountRequest struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
	Avatar   string `json:"avatar"`
	Password string `json:"password"`
}

type CurrentRoomRequest struct {
	RoomId *string `json:"roomId"`
}

type RoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type PostMessageRequest struct {
	RoomId string `json:"roomId"`
	Text   string `json:"text"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(errResp).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// currentUser loads the account of the authenticated caller.
func (s *GoChatApp) currentUser(w http.ResponseWriter, r *http.Request) (database.User, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return database.User{}, false
	}

	user, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		s.writeError(w, repoError(err))
		return database.User{}, false
	}

	return user, true
}

func pathInt(r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.PathValue(name))
	return v, err == nil
}

func canModerate(u database.User) bool {
	return types.Role(u.Role).CanModerate()
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	defaultRoom := database.DefaultRoomId
	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:      req.Username,
		EmailAddress:  req.Email,
		PasswordHash:  pwdHash,
		CurrentRoomId: &defaultRoom,
	})
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, server.ToUser(newUser))
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Email == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		errResp := repoError(err)
		if errResp.StatusCode == http.StatusNotFound {
			errResp = NewUnauthorizedError()
		}
		s.writeError(w, errResp)
		return
	}

	if !auth.VerifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := s.tokens.CreateToken(dbUser.Id, auth.DefaultExp)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, s.createJwtCookie(token, auth.DefaultExp))

	s.writeJson(w, http.StatusOK, LoginResponse{Token: token, User: server.ToUser(dbUser)})
}

func (s *GoChatApp) createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     server.TokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, server.ToUser(user))
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	cookie := s.createJwtCookie("", 0)
	cookie.Expires = time.Unix(0, 0)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

// getUser returns the full account to its owner and the public projection
// to everyone else.
func (s *GoChatApp) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), id)
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	if callerId, _ := UserId(r.Context()); callerId == user.Id {
		s.writeJson(w, http.StatusOK, server.ToUser(user))
		return
	}

	s.writeJson(w, http.StatusOK, server.ToUser(user).Public())
}

func (s *GoChatApp) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	curUser, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	if curUser.Id != id {
		s.writeError(w, NewForbiddenError())
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	params := database.UpdateAccountParams{
		UserId:   curUser.Id,
		Username: strings.TrimSpace(req.Username),
		Bio:      req.Bio,
		Avatar:   req.Avatar,
	}
	if params.Username == "" {
		params.Username = curUser.Username
	}

	// the hash is only recomputed when a new password is supplied
	if req.Password != "" {
		pwdHash, err := auth.HashPassword(req.Password)
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
		params.PasswordHash = pwdHash
	}

	dbUser, err := s.db.UpdateAccount(r.Context(), params)
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	user := server.ToUser(dbUser)
	// the account is already saved, so a failed refresh is only logged
	if err := s.cs.RefreshUser(r.Context(), user); err != nil {
		s.log.Warn().Err(err).Int("user", user.Id).Msg("failed to refresh live profile")
	}

	s.writeJson(w, http.StatusOK, user)
}

// setCurrentRoom updates the room a user returns to on their next
// connection. Presence is only changed through the websocket.
func (s *GoChatApp) setCurrentRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	callerId, _ := UserId(r.Context())
	if callerId != id {
		s.writeError(w, NewForbiddenError())
		return
	}

	var req CurrentRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.RoomId != nil {
		if _, err := s.db.GetRoom(r.Context(), *req.RoomId); err != nil {
			s.writeError(w, repoError(err))
			return
		}
	}

	if err := s.db.SetCurrentRoom(r.Context(), id, req.RoomId); err != nil {
		s.writeError(w, repoError(err))
		return
	}

	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, server.ToUser(user))
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: r.Description,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	dbRooms, err := s.db.ListRooms(r.Context())
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, toRoom(room))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newRoom, err := s.db.CreateRoom(r.Context(), database.CreateRoomParams{
		Id:          sid,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   userId,
	})
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, toRoom(newRoom))
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("id")

	room, err := s.db.GetRoom(r.Context(), roomId)
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	occupants, err := s.cs.Occupants(r.Context(), roomId)
	if err != nil {
		s.writeError(w, chatError(err))
		return
	}

	resp := toRoom(room)
	resp.Occupants = occupants
	s.writeJson(w, http.StatusOK, resp)
}

// roomForModeration loads a room and checks the caller may change it.
func (s *GoChatApp) roomForModeration(w http.ResponseWriter, r *http.Request) (database.Room, bool) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return database.Room{}, false
	}

	room, err := s.db.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, repoError(err))
		return database.Room{}, false
	}

	if room.CreatedBy != user.Id && !canModerate(user) {
		s.writeError(w, NewForbiddenError())
		return database.Room{}, false
	}

	return room, true
}

func (s *GoChatApp) updateRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, ok := s.roomForModeration(w, r)
	if !ok {
		return
	}

	params := database.UpdateRoomParams{
		Id:          room.Id,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
	}
	if params.Name == "" {
		params.Name = room.Name
	}

	updated, err := s.db.UpdateRoom(r.Context(), params)
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toRoom(updated))
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomForModeration(w, r)
	if !ok {
		return
	}

	if err := s.cs.RemoveRoom(r.Context(), room.Id); err != nil {
		s.writeError(w, chatError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GoChatApp) roomUsers(w http.ResponseWriter, r *http.Request) {
	occupants, err := s.cs.Occupants(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, chatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, occupants)
}

func (s *GoChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	msg, err := s.cs.Post(r.Context(), server.ToUser(user).Public(), req.RoomId, req.Text)
	if err != nil {
		s.writeError(w, chatError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("roomId")
	if _, err := s.db.GetRoom(r.Context(), roomId); err != nil {
		s.writeError(w, repoError(err))
		return
	}

	var before, limit int
	var err error

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = strconv.Atoi(beforeStr)
		if err != nil || before < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	dbMessages, err := s.db.GetMessages(r.Context(), roomId, before, limit)
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, server.ToMessage(msg))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	msg, err := s.db.GetMessage(r.Context(), id)
	if err != nil {
		s.writeError(w, repoError(err))
		return
	}

	if msg.UserId != user.Id && !canModerate(user) {
		s.writeError(w, NewForbiddenError())
		return
	}

	if err := s.db.DeleteMessage(r.Context(), id); err != nil {
		s.writeError(w, repoError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
