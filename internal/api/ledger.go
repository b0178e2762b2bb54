package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/policeintel/auditledger/internal/events"
	"github.com/policeintel/auditledger/internal/identity"
	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
)

// maxPageSize caps the number of entries returned by one list request.
const maxPageSize = 500

// LedgerHandler exposes HTTP endpoints for the audit ledger.
type LedgerHandler struct {
	ledger ledger.Ledger
	tokens *identity.TokenIssuer
	hub    *events.Hub
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. A nil tokens issuer puts
// the write endpoint in development mode (see identity.RequireActor).
func NewLedgerHandler(l ledger.Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, tokens: tokens, logger: logger}
}

// SetHub enables the live stream endpoint.
func (h *LedgerHandler) SetHub(hub *events.Hub) {
	h.hub = hub
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries", h.ListEntries)
		l.GET("/entries/:idx", h.GetEntry)
		l.POST("/entries", identity.RequireActor(h.tokens), h.AppendEntry)
		if h.hub != nil {
			l.GET("/stream", h.Stream)
		}
	}
}

// Overview handles GET /ledger: returns the chain length and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /ledger/verify: walks the full chain and reports the
// first break, if any. A broken chain is a finding, not an error: the
// response is 200 with intact=false.
func (h *LedgerHandler) Verify(c *gin.Context) {
	v, err := h.ledger.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}
	RecordVerification(v.Intact)
	if !v.Intact {
		h.logger.Warn("ledger integrity check failed",
			zap.Uint64p("broken_at", v.BrokenAt),
			zap.String("reason", string(v.Reason)),
		)
	}
	c.JSON(http.StatusOK, v)
}

// ListEntries handles GET /ledger/entries?limit=&offset=: newest first.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	entries, err := h.ledger.ReadAll(c.Request.Context(), ledger.Page{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("ledger ReadAll", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetEntry handles GET /ledger/entries/:idx: returns a single ledger entry.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("idx"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger Get", zap.Uint64("index", idx), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

type appendRequest struct {
	Action   string         `json:"action" binding:"required"`
	Resource string         `json:"resource"`
	Details  map[string]any `json:"details"`
}

// AppendEntry handles POST /ledger/entries: records an action by the
// authenticated actor.
func (h *LedgerHandler) AppendEntry(c *gin.Context) {
	var req appendRequest
	if err := bindJSONNumbers(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := identity.ActorFromCtx(c)

	entry, err := h.ledger.Append(c.Request.Context(), actor, req.Action, req.Resource, req.Details)
	switch {
	case errors.Is(err, ledger.ErrInvalidActor),
		errors.Is(err, ledger.ErrInvalidAction),
		errors.Is(err, ledger.ErrInvalidDetails):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ledger.ErrStoreDamaged):
		h.logger.Error("ledger Append refused", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger store is damaged; appends are disabled"})
		return
	case err != nil:
		h.logger.Error("ledger Append", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append entry"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// bindJSONNumbers is ShouldBindJSON with numbers kept as json.Number, so
// detail values are hashed exactly as the caller sent them.
func bindJSONNumbers(c *gin.Context, obj any) error {
	if c.Request.Body == nil {
		return errors.New("missing request body")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(obj); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(obj)
}

// Stream handles GET /ledger/stream: upgrades to a websocket that carries
// every appended entry.
func (h *LedgerHandler) Stream(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
