package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/auth"
	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	subjectContextKey        = "blockpad_subject"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingBlocksService    = errors.New("blocks service dependency required")
	errMissingPagesService     = errors.New("pages service dependency required")
)

// SessionValidator authenticates API requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions          SessionValidator
	BlocksService     *blocks.Service
	PagesService      *pages.Service
	Sanitizer         sanitize.Sanitizer
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.BlocksService == nil {
		return nil, errMissingBlocksService
	}
	if deps.PagesService == nil {
		return nil, errMissingPagesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = sanitize.NewPolicy()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		blocks:    deps.BlocksService,
		pages:     deps.PagesService,
		sanitizer: sanitizer,
		realtime:  realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/pages", handler.handleSearchPages)
	protected.POST("/pages", handler.handleCreatePage)
	protected.GET("/pages/:pageId", handler.handleGetPage)
	protected.DELETE("/pages/:pageId", handler.handleArchivePage)
	protected.GET("/pages/:pageId/links", handler.handleListLinks)
	protected.GET("/pages/:pageId/backlinks", handler.handleListBacklinks)
	protected.GET("/pages/:pageId/blocks", handler.handleListBlocks)
	protected.POST("/pages/:pageId/blocks", handler.handleCreateBlock)
	protected.POST("/pages/:pageId/blocks/reorder", handler.handleReorderBlocks)
	protected.GET("/pages/:pageId/stream", handler.handlePageStream)
	protected.PATCH("/blocks/:blockId", handler.handleUpdateBlock)
	protected.DELETE("/blocks/:blockId", handler.handleDeleteBlock)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions  SessionValidator
	blocks    *blocks.Service
	pages     *pages.Service
	sanitizer sanitize.Sanitizer
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

// blockView is a block as served to clients, with its sanitized markup.
type blockView struct {
	blocks.Block
	HTML string `json:"html"`
}

type blockResponsePayload struct {
	Block blockView `json:"block"`
}

type blocksResponsePayload struct {
	Blocks []blockView `json:"blocks"`
}

type reorderRequestPayload struct {
	Updates []blocks.PositionUpdate `json:"updates"`
}

type pageResponsePayload struct {
	Page pages.PageSummary `json:"page"`
}

type pagesResponsePayload struct {
	Pages []pages.PageSummary `json:"pages"`
}

type linksResponsePayload struct {
	Links []pages.Link `json:"links"`
}

func (h *httpHandler) view(block blocks.Block) blockView {
	return blockView{Block: block, HTML: h.sanitizer.Sanitize(block.Payload.Text)}
}

func (h *httpHandler) handleSearchPages(c *gin.Context) {
	results, err := h.pages.SearchPages(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.respondError(c, err, "pages.search_pages.failed")
		return
	}
	c.JSON(http.StatusOK, pagesResponsePayload{Pages: results})
}

func (h *httpHandler) handleCreatePage(c *gin.Context) {
	var request pages.NewPage
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "pages.create_page.invalid_request"})
		return
	}
	page, err := h.pages.CreatePage(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err, "pages.create_page.failed")
		return
	}
	c.JSON(http.StatusCreated, pageResponsePayload{Page: page})
}

func (h *httpHandler) handleGetPage(c *gin.Context) {
	pageID, ok := pageParam(c)
	if !ok {
		return
	}
	page, err := h.pages.Page(c.Request.Context(), pageID)
	if err != nil {
		h.respondError(c, err, "pages.get_page.failed")
		return
	}
	c.JSON(http.StatusOK, pageResponsePayload{Page: page})
}

func (h *httpHandler) handleArchivePage(c *gin.Context) {
	pageID, ok := pageParam(c)
	if !ok {
		return
	}
	if err := h.pages.Archive(c.Request.Context(), pageID); err != nil {
		h.respondError(c, err, "pages.archive_page.failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListLinks(c *gin.Context) {
	pageID, ok := pageParam(c)
	if !ok {
		return
	}
	links, err := h.pages.Links(c.Request.Context(), pageID)
	if err != nil {
		h.respondError(c, err, "pages.list_links.failed")
		return
	}
	c.JSON(http.StatusOK, linksResponsePayload{Links: links})
}

func (h *httpHandler) handleListBacklinks(c *gin.Context) {
	pageID, ok := pageParam(c)
	if !ok {
		return
	}
	results, err := h.pages.Backlinks(c.Request.Context(), pageID)
	if err != nil {
		h.respondError(c, err, "pages.list_backlinks.failed")
		return
	}
	c.JSON(http.StatusOK, pagesResponsePayload{Pages: results})
}

func (h *httpHandler) handleListBlocks(c *gin.Context) {
	pageID, ok := h.existingPage(c)
	if !ok {
		return
	}
	list, err := h.blocks.ListBlocks(c.Request.Context(), pageID)
	if err != nil {
		h.respondError(c, err, "blocks.list_blocks.failed")
		return
	}
	response := blocksResponsePayload{Blocks: make([]blockView, 0, len(list))}
	for _, block := range list {
		response.Blocks = append(response.Blocks, h.view(block))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateBlock(c *gin.Context) {
	pageID, ok := h.existingPage(c)
	if !ok {
		return
	}
	var request blocks.NewBlock
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "blocks.create_block.invalid_request"})
		return
	}
	request.PageID = pageID
	if strings.TrimSpace(string(request.Type)) == "" {
		request.Type = blocks.TypeParagraph
	}
	created, err := h.blocks.CreateBlock(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err, "blocks.create_block.failed")
		return
	}
	h.announce(c, pageID, RealtimeEventBlocksChanged, created.ID)
	c.JSON(http.StatusCreated, blockResponsePayload{Block: h.view(created)})
}

func (h *httpHandler) handleUpdateBlock(c *gin.Context) {
	blockID, ok := blockParam(c)
	if !ok {
		return
	}
	var patch blocks.BlockPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "blocks.update_block.invalid_request"})
		return
	}
	updated, err := h.blocks.UpdateBlock(c.Request.Context(), blockID, patch)
	if err != nil {
		h.respondError(c, err, "blocks.update_block.failed")
		return
	}
	h.announce(c, updated.PageID, RealtimeEventBlocksChanged, updated.ID)
	c.JSON(http.StatusOK, blockResponsePayload{Block: h.view(updated)})
}

func (h *httpHandler) handleDeleteBlock(c *gin.Context) {
	blockID, ok := blockParam(c)
	if !ok {
		return
	}
	existing, lookupErr := h.blocks.GetBlock(c.Request.Context(), blockID)
	if err := h.blocks.DeleteBlock(c.Request.Context(), blockID); err != nil {
		h.respondError(c, err, "blocks.delete_block.failed")
		return
	}
	if lookupErr == nil {
		h.announce(c, existing.PageID, RealtimeEventBlocksDeleted, blockID)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderBlocks(c *gin.Context) {
	pageID, ok := h.existingPage(c)
	if !ok {
		return
	}
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "blocks.batch_reorder.invalid_request"})
		return
	}
	if err := h.blocks.BatchReorder(c.Request.Context(), pageID, request.Updates); err != nil {
		h.respondError(c, err, "blocks.batch_reorder.failed")
		return
	}
	ids := make([]blocks.BlockID, 0, len(request.Updates))
	for _, update := range request.Updates {
		ids = append(ids, update.ID)
	}
	h.announce(c, pageID, RealtimeEventBlocksReordered, ids...)
	c.Status(http.StatusNoContent)
}

// announce publishes a change to the page's stream subscribers and bumps the
// page's update time.
func (h *httpHandler) announce(c *gin.Context, pageID blocks.PageID, eventType string, ids ...blocks.BlockID) {
	blockIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		blockIDs = append(blockIDs, id.String())
	}
	h.realtime.Publish(RealtimeMessage{
		PageID:    pageID.String(),
		EventType: eventType,
		BlockIDs:  blockIDs,
		Timestamp: time.Now().UTC(),
	})
	if err := h.pages.Touch(c.Request.Context(), pageID); err != nil {
		h.logger.Debug("page touch skipped", zap.String("page_id", pageID.String()), zap.Error(err))
	}
}

func (h *httpHandler) existingPage(c *gin.Context) (blocks.PageID, bool) {
	pageID, ok := pageParam(c)
	if !ok {
		return "", false
	}
	if _, err := h.pages.Page(c.Request.Context(), pageID); err != nil {
		h.respondError(c, err, "pages.get_page.failed")
		return "", false
	}
	return pageID, true
}

func (h *httpHandler) respondError(c *gin.Context, err error, fallbackCode string) {
	code := blocks.ErrorCode(err, fallbackCode)
	switch {
	case errors.Is(err, blocks.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": code})
	case errors.Is(err, blocks.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "code": code})
	default:
		h.logger.Error("request failed", zap.String("code", code), zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}

func pageParam(c *gin.Context) (blocks.PageID, bool) {
	pageID, err := blocks.NewPageID(c.Param("pageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page_id", "code": "pages.invalid_page_id"})
		return "", false
	}
	return pageID, true
}

func blockParam(c *gin.Context) (blocks.BlockID, bool) {
	blockID, err := blocks.NewBlockID(c.Param("blockId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_block_id", "code": "blocks.invalid_block_id"})
		return "", false
	}
	return blockID, true
}
