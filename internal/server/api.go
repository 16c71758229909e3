package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/directory"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/server/middleware"
)

// apiHandlers serves the non-realtime chat operations and the auth surface.
type apiHandlers struct {
	logger *slog.Logger
	deps   Deps
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeDomainError maps the chat failure taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidParticipants):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrChatNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrDuplicateChat):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}

func callerID(r *http.Request) string {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok {
		return ""
	}
	return reqMeta.UserID
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *apiHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "name, email and a password of at least 6 characters are required")
		return
	}
	if req.Role != directory.RoleProvider {
		req.Role = directory.RoleCustomer
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user := &directory.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	if err := h.deps.Directory.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, directory.ErrEmailTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to create user", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *apiHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.deps.Directory.FindUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "wrong email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "wrong email or password")
		return
	}
	if !user.Active {
		writeError(w, http.StatusForbidden, "account is deactivated")
		return
	}

	token, err := h.deps.Issuer.Issue(user.ID)
	if err != nil {
		h.logger.Error("failed to issue token", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"user":         user,
	})
}

func (h *apiHandlers) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.deps.Chats.List(r.Context(), callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": chats})
}

type createChatRequest struct {
	BookingID string `json:"booking_id"`
}

// createChat opens the chat for a booking. The caller must be a party to the
// booking; the other party becomes the second participant.
func (h *apiHandlers) createChat(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)

	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookingID == "" {
		writeError(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	booking, err := h.deps.Directory.FindBooking(r.Context(), req.BookingID)
	if err != nil {
		if errors.Is(err, directory.ErrBookingNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if caller != booking.CustomerID && caller != booking.ProviderID {
		writeError(w, http.StatusForbidden, "caller is not a party to this booking")
		return
	}

	created, err := h.deps.Chats.Create(r.Context(), booking.CustomerID, booking.ProviderID, &booking.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": created})
}

// getChat returns a chat with its messages. Viewing implies reading: the
// fetch runs the same read reconciliation and fanout as mark_read.
func (h *apiHandlers) getChat(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	c, msgs, err := h.deps.Chats.View(r.Context(), callerID(r), r.PathValue("id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"chat":     c,
		"messages": msgs,
	}})
}

func (h *apiHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Chats.MarkRead(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]int{"unread_count": 0}})
}
