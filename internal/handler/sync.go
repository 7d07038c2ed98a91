package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tush00nka/bbbab_sync/internal/model"
	"tush00nka/bbbab_sync/internal/pkg/httputils"
	"tush00nka/bbbab_sync/internal/service"
	"tush00nka/bbbab_sync/internal/sync"
)

type SyncHandler struct {
	engine *sync.Engine
	media  *service.MediaService
}

func NewSyncHandler(engine *sync.Engine, media *service.MediaService) *SyncHandler {
	return &SyncHandler{engine: engine, media: media}
}

func (h *SyncHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/conversations/{id}/open", h.openConversation).Methods("POST", "OPTIONS")
	router.HandleFunc("/conversations/{id}/transcript", h.getTranscript).Methods("GET", "OPTIONS")
	router.HandleFunc("/conversations/{id}/readstate", h.getReadState).Methods("GET", "OPTIONS")
	router.HandleFunc("/conversations/{id}/older", h.loadOlder).Methods("POST", "OPTIONS")
	router.HandleFunc("/conversations/{id}/purge", h.purgeConversation).Methods("POST", "OPTIONS")
	router.HandleFunc("/conversations/close", h.closeConversation).Methods("POST", "OPTIONS")
	router.HandleFunc("/focus", h.focus).Methods("POST", "OPTIONS")
	router.HandleFunc("/blur", h.blur).Methods("POST", "OPTIONS")
	router.HandleFunc("/attachments/presign", h.presignAttachment).Methods("POST", "OPTIONS")
	router.HandleFunc("/attachments/prefetch", h.prefetchAttachment).Methods("POST", "OPTIONS")
	router.HandleFunc("/stats", h.getStats).Methods("GET", "OPTIONS")
}

type transcriptResponse struct {
	ConversationID uint            `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
	HasMore        bool            `json:"has_more"`
}

type readStateResponse struct {
	ConversationID uint          `json:"conversation_id"`
	LastSeen       map[uint]uint `json:"last_seen"`
}

type presignRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type prefetchRequest struct {
	URL            string `json:"url"`
	Filename       string `json:"filename"`
	ConversationID uint   `json:"conversation_id"`
	MessageID      uint   `json:"message_id"`
}

type presignResponse struct {
	URL string `json:"url"`
}

type statsResponse struct {
	EventsApplied int64 `json:"events_applied"`
	PagesLoaded   int64 `json:"pages_loaded"`
	AcksSent      int64 `json:"acks_sent"`
}

// conversationID id беседы из пути, 0 если путь битый
func conversationID(r *http.Request) uint {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// @Summary Open conversation
// @Description Bind the engine to a conversation and start syncing it
// @ID open-conversation
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200
// @Failure 400 {object} response.ErrorResponse
// @Router /conversations/{id}/open [post]
func (h *SyncHandler) openConversation(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	if id == 0 {
		httputils.ResponseError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := h.engine.Bind(r.Context(), id); err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "failed to open conversation")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// @Summary Get transcript
// @Description Current merged transcript of the bound conversation
// @ID get-transcript
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200 {object} transcriptResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /conversations/{id}/transcript [get]
func (h *SyncHandler) getTranscript(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	if id == 0 || h.engine.ConversationID() != id {
		httputils.ResponseError(w, http.StatusBadRequest, "conversation is not open")
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, transcriptResponse{
		ConversationID: id,
		Messages:       h.engine.Transcript(),
		HasMore:        h.engine.HasMore(),
	})
}

// @Summary Get read state
// @Description Last message each participant has seen
// @ID get-read-state
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200 {object} readStateResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /conversations/{id}/readstate [get]
func (h *SyncHandler) getReadState(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	if id == 0 || h.engine.ConversationID() != id {
		httputils.ResponseError(w, http.StatusBadRequest, "conversation is not open")
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, readStateResponse{
		ConversationID: id,
		LastSeen:       h.engine.ReadState(),
	})
}

// @Summary Load older page
// @Description Fetch the next older page of history into the transcript
// @ID load-older
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200
// @Failure 400 {object} response.ErrorResponse
// @Router /conversations/{id}/older [post]
func (h *SyncHandler) loadOlder(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	if id == 0 || h.engine.ConversationID() != id {
		httputils.ResponseError(w, http.StatusBadRequest, "conversation is not open")
		return
	}

	if err := h.engine.LoadOlder(r.Context()); err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "failed to load older messages")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// @Summary Purge conversation
// @Description Drop the local archive and cache of a conversation
// @ID purge-conversation
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200
// @Failure 400 {object} response.ErrorResponse
// @Router /conversations/{id}/purge [post]
func (h *SyncHandler) purgeConversation(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	if id == 0 {
		httputils.ResponseError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := h.engine.Purge(r.Context(), id); err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "failed to purge conversation")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// @Summary Close conversation
// @Description Leave the room and drop the transcript
// @ID close-conversation
// @Success 200
// @Router /conversations/close [post]
func (h *SyncHandler) closeConversation(w http.ResponseWriter, r *http.Request) {
	h.engine.Unbind()
	w.WriteHeader(http.StatusOK)
}

// @Summary Focus
// @Description Mark the conversation as visible, seen receipts start flowing
// @ID focus
// @Success 200
// @Router /focus [post]
func (h *SyncHandler) focus(w http.ResponseWriter, r *http.Request) {
	h.engine.Focus()
	w.WriteHeader(http.StatusOK)
}

// @Summary Blur
// @Description Mark the conversation as hidden, only delivered receipts flow
// @ID blur
// @Success 200
// @Router /blur [post]
func (h *SyncHandler) blur(w http.ResponseWriter, r *http.Request) {
	h.engine.Blur()
	w.WriteHeader(http.StatusOK)
}

// @Summary Presign attachment
// @Description Temporary download link for an attachment
// @ID presign-attachment
// @Accept json
// @Produce json
// @Param AttachmentData body presignRequest true "Attachment Data"
// @Success 200 {object} presignResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /attachments/presign [post]
func (h *SyncHandler) presignAttachment(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		httputils.ResponseError(w, http.StatusServiceUnavailable, "media storage is not configured")
		return
	}

	var request presignRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	url, err := h.media.PresignAttachment(r.Context(), model.Attachment{
		URL:      request.URL,
		Filename: request.Filename,
	}, 15*time.Minute)
	if err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "failed to presign attachment")
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, presignResponse{URL: url})
}

// @Summary Prefetch attachment
// @Description Download an attachment through the local daemon
// @ID prefetch-attachment
// @Accept json
// @Produce octet-stream
// @Param AttachmentData body prefetchRequest true "Attachment Data"
// @Success 200
// @Failure 400 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /attachments/prefetch [post]
func (h *SyncHandler) prefetchAttachment(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		httputils.ResponseError(w, http.StatusServiceUnavailable, "media storage is not configured")
		return
	}

	var request prefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	meta, data, err := h.media.PrefetchAttachment(r.Context(), request.ConversationID, request.MessageID, model.Attachment{
		URL:      request.URL,
		Filename: request.Filename,
	})
	if err != nil {
		httputils.ResponseError(w, http.StatusBadRequest, "failed to prefetch attachment")
		return
	}

	log.Printf("prefetched attachment %s (%s, %d bytes)", meta.ID, meta.Filename, meta.Size)

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// @Summary Stats
// @Description Engine counters
// @ID get-stats
// @Produce json
// @Success 200 {object} statsResponse
// @Router /stats [get]
func (h *SyncHandler) getStats(w http.ResponseWriter, r *http.Request) {
	httputils.ResponseJSON(w, http.StatusOK, statsResponse{
		EventsApplied: h.engine.Metrics.EventsApplied.Load(),
		PagesLoaded:   h.engine.Metrics.PagesLoaded.Load(),
		AcksSent:      h.engine.Metrics.AcksSent.Load(),
	})
}
