package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"

	apperrors "github.com/harborchat/harborchat/internal/platform/errors"
	"github.com/harborchat/harborchat/internal/platform/requestctx"
	"github.com/harborchat/harborchat/internal/services/messaging/domain"
)

const maxRequestBodyBytes = 64 * 1024

type conversationPayload struct {
	ID          string `json:"id"`
	IsGroup     bool   `json:"is_group"`
	Name        string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	OtherUserID string `json:"other_user_id,omitempty"`
	UnreadCount int    `json:"unread_count"`

	Participants []participantPayload `json:"participants,omitempty"`
	LastMessage  *messagePayload      `json:"last_message,omitempty"`
}

type participantPayload struct {
	UserID   string `json:"user_id"`
	JoinedAt string `json:"joined_at"`
	IsAdmin  bool   `json:"is_admin"`
}

type messagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
	IsDeleted      bool   `json:"is_deleted,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type createConversationRequest struct {
	ID             string   `json:"id,omitempty"`
	ParticipantIDs []string `json:"participant_ids"`
	IsGroup        bool     `json:"is_group,omitempty"`
	Name           string   `json:"name,omitempty"`
	AvatarURL      string   `json:"avatar_url,omitempty"`
}

type updateConversationRequest struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type addParticipantRequest struct {
	UserID string `json:"user_id"`
}

type sendMessageRequest struct {
	Content   string `json:"content,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	// ParticipantIDs seed the reconciliation gateway when the conversation
	// id was generated client-side and has not been seen yet.
	ParticipantIDs []string `json:"participant_ids,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newHandler builds the messaging routes behind the identity gate.
func newHandler(service *domain.Service, authorizer authorizer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	authed := func(handler http.HandlerFunc) http.HandlerFunc {
		return requireUser(authorizer, handler)
	}

	mux.HandleFunc("POST /v1/conversations", authed(handleCreateConversation(service)))
	mux.HandleFunc("GET /v1/conversations", authed(handleListConversations(service)))
	mux.HandleFunc("GET /v1/conversations/{conversationID}", authed(handleGetConversation(service)))
	mux.HandleFunc("PATCH /v1/conversations/{conversationID}", authed(handleUpdateConversation(service)))
	mux.HandleFunc("POST /v1/conversations/{conversationID}/participants", authed(handleAddParticipant(service)))
	mux.HandleFunc("DELETE /v1/conversations/{conversationID}/participants/{userID}", authed(handleRemoveParticipant(service)))
	mux.HandleFunc("POST /v1/conversations/{conversationID}/messages", authed(handleSendMessage(service)))
	mux.HandleFunc("GET /v1/conversations/{conversationID}/messages", authed(handleListMessages(service)))
	mux.HandleFunc("POST /v1/conversations/{conversationID}/read", authed(handleMarkRead(service)))
	mux.HandleFunc("DELETE /v1/messages/{messageID}", authed(handleDeleteMessage(service)))
	mux.HandleFunc("POST /v1/messages/{messageID}/read", authed(handleMarkMessageRead(service)))
	return mux
}

// requireUser authenticates the bearer credential and stashes the resolved
// user id in the request context.
func requireUser(authorizer authorizer, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authorizer == nil {
			writeError(w, apperrors.New(apperrors.CodeInternal, "auth is not configured"))
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}
		userID, err := authorizer.Authenticate(r.Context(), token)
		if err != nil {
			log.Printf("authenticate: %v", err)
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "invalid credentials"))
			return
		}
		next(w, r.WithContext(requestctx.WithUserID(r.Context(), userID)))
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func handleCreateConversation(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createConversationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conversation, err := service.CreateConversation(r.Context(), domain.CreateConversationInput{
			RequesterID:    requestctx.UserIDFromContext(r.Context()),
			ParticipantIDs: req.ParticipantIDs,
			IsGroup:        req.IsGroup,
			Name:           req.Name,
			AvatarURL:      req.AvatarURL,
			ConversationID: req.ID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toConversationPayload(conversation))
	}
}

func handleListConversations(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := service.ListConversations(r.Context(), requestctx.UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		payloads := make([]conversationPayload, 0, len(views))
		for _, view := range views {
			payloads = append(payloads, toConversationViewPayload(view))
		}
		writeJSON(w, http.StatusOK, map[string][]conversationPayload{"conversations": payloads})
	}
}

func handleGetConversation(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := service.GetConversation(r.Context(), r.PathValue("conversationID"), requestctx.UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConversationViewPayload(view))
	}
}

func handleUpdateConversation(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateConversationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conversation, err := service.UpdateConversation(r.Context(), domain.UpdateConversationInput{
			ConversationID: r.PathValue("conversationID"),
			RequesterID:    requestctx.UserIDFromContext(r.Context()),
			Name:           req.Name,
			AvatarURL:      req.AvatarURL,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConversationPayload(conversation))
	}
}

func handleAddParticipant(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addParticipantRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		err := service.AddParticipant(r.Context(), r.PathValue("conversationID"), requestctx.UserIDFromContext(r.Context()), req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRemoveParticipant(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.RemoveParticipant(r.Context(), r.PathValue("conversationID"), requestctx.UserIDFromContext(r.Context()), r.PathValue("userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSendMessage(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conversationID := r.PathValue("conversationID")
		requesterID := requestctx.UserIDFromContext(r.Context())

		// Client-generated conversation ids are materialized lazily before
		// the send; failures are swallowed so the send fails on its own.
		service.EnsureConversation(r.Context(), conversationID, requesterID, req.ParticipantIDs)

		message, err := service.SendMessage(r.Context(), domain.SendMessageInput{
			ConversationID: conversationID,
			SenderID:       requesterID,
			Content:        req.Content,
			MediaURL:       req.MediaURL,
			MediaType:      req.MediaType,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMessagePayload(message))
	}
}

func handleListMessages(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, apperrors.New(apperrors.CodeInvalidRequest, "limit must be an integer"))
				return
			}
			limit = parsed
		}
		conversationID := r.PathValue("conversationID")
		requesterID := requestctx.UserIDFromContext(r.Context())

		// Same lazy materialization as the send path: a client catching up
		// on a conversation id it generated offline converges on an empty
		// conversation instead of a rejection.
		service.EnsureConversation(r.Context(), conversationID, requesterID, nil)

		messages, err := service.ListMessages(r.Context(), domain.ListMessagesInput{
			ConversationID: conversationID,
			RequesterID:    requesterID,
			Limit:          limit,
			BeforeID:       r.URL.Query().Get("before_id"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		payloads := make([]messagePayload, 0, len(messages))
		for _, message := range messages {
			payloads = append(payloads, toMessagePayload(message))
		}
		writeJSON(w, http.StatusOK, map[string][]messagePayload{"messages": payloads})
	}
}

func handleMarkRead(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.MarkRead(r.Context(), r.PathValue("conversationID"), requestctx.UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteMessage(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.DeleteMessage(r.Context(), r.PathValue("messageID"), requestctx.UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMarkMessageRead(service *domain.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.MarkMessageRead(r.Context(), r.PathValue("messageID"), requestctx.UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	if err := json.NewDecoder(body).Decode(target); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidRequest, "request body must be valid JSON"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError renders the JSON error envelope, mapping domain codes to gRPC
// canonical codes and from there to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code:    string(apperrors.CodeInternal),
			Message: "internal error",
		}})
		return
	}
	writeJSON(w, httpStatusFor(appErr.Code.GRPCCode()), errorEnvelope{Error: errorBody{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}})
}

func httpStatusFor(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toConversationPayload(conversation domain.Conversation) conversationPayload {
	return conversationPayload{
		ID:        conversation.ID,
		IsGroup:   conversation.IsGroup,
		Name:      conversation.Name,
		AvatarURL: conversation.AvatarURL,
		CreatedBy: conversation.CreatedBy,
		CreatedAt: formatTime(conversation.CreatedAt),
		UpdatedAt: formatTime(conversation.UpdatedAt),
	}
}

func toConversationViewPayload(view domain.ConversationView) conversationPayload {
	payload := toConversationPayload(view.Conversation)
	payload.OtherUserID = view.OtherUserID
	payload.UnreadCount = view.UnreadCount
	payload.Participants = make([]participantPayload, 0, len(view.Participants))
	for _, participant := range view.Participants {
		payload.Participants = append(payload.Participants, participantPayload{
			UserID:   participant.UserID,
			JoinedAt: formatTime(participant.JoinedAt),
			IsAdmin:  participant.IsAdmin,
		})
	}
	if view.LastMessage != nil {
		last := toMessagePayload(*view.LastMessage)
		payload.LastMessage = &last
	}
	return payload
}

func toMessagePayload(message domain.Message) messagePayload {
	return messagePayload{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		MediaURL:       message.MediaURL,
		MediaType:      message.MediaType,
		IsDeleted:      message.IsDeleted,
		CreatedAt:      formatTime(message.CreatedAt),
		UpdatedAt:      formatTime(message.UpdatedAt),
	}
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}
