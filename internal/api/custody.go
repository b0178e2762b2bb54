package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/policeintel/auditledger/internal/custody"
	"github.com/policeintel/auditledger/internal/identity"
	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
)

// CustodyHandler exposes evidence intake and custody verification.
type CustodyHandler struct {
	verifier *custody.Verifier
	tokens   *identity.TokenIssuer
	logger   *zap.Logger
}

// NewCustodyHandler creates a new CustodyHandler.
func NewCustodyHandler(verifier *custody.Verifier, tokens *identity.TokenIssuer, logger *zap.Logger) *CustodyHandler {
	return &CustodyHandler{verifier: verifier, tokens: tokens, logger: logger}
}

// Register mounts the custody routes on the given router group.
func (h *CustodyHandler) Register(rg *gin.RouterGroup) {
	cr := rg.Group("/custody/records")
	{
		cr.POST("", identity.RequireActor(h.tokens), h.Fingerprint)
		cr.GET("/:id/verify", identity.OptionalActor(h.tokens), h.Verify)
	}
}

type fingerprintRequest struct {
	ArtifactRef   string `json:"artifact_ref" binding:"required"`
	ContentBase64 string `json:"content_base64" binding:"required"`
	Algorithm     string `json:"algorithm"`
}

// Fingerprint handles POST /custody/records: stores an artifact and its
// digest.
func (h *CustodyHandler) Fingerprint(c *gin.Context) {
	var req fingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_base64 is not valid base64"})
		return
	}
	alg, err := custody.ParseAlgorithm(req.Algorithm)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := identity.ActorFromCtx(c)

	rec, err := h.verifier.Fingerprint(c.Request.Context(), req.ArtifactRef, content, alg, actor)
	switch {
	case errors.Is(err, custody.ErrEmptyArtifact), errors.Is(err, ledger.ErrInvalidActor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, custody.ErrArtifactExists):
		c.JSON(http.StatusConflict, gin.H{"error": "artifact_ref already fingerprinted"})
		return
	case err != nil:
		h.logger.Error("custody Fingerprint", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fingerprint artifact"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Verify handles GET /custody/records/:id/verify. Every outcome, including
// an unknown record, is a 200 with verified=false and a reason.
func (h *CustodyHandler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, h.verifier.Verify(c.Request.Context(), c.Param("id")))
}
