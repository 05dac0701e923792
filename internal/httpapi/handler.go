package httpapi

import (
	"net/http"
	"time"

	"affiliate-controlplane/pkg/errutil"
	"affiliate-controlplane/pkg/hashing"
	"affiliate-controlplane/pkg/health"
	"affiliate-controlplane/services/click"
	"affiliate-controlplane/services/commission"
	"affiliate-controlplane/services/experiment"
	"affiliate-controlplane/services/fraud"
	"affiliate-controlplane/services/link"
	"affiliate-controlplane/services/partner"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

const sessionCookie = "aff_sid"

var Module = fx.Module("httpapi",
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	health     health.HealthService
	partner    *partner.Service
	link       *link.Service
	click      *click.Service
	fraud      *fraud.Service
	commission *commission.Service
	experiment *experiment.Service
}

type Params struct {
	fx.In
	Engine     *gin.Engine
	Health     health.HealthService
	Partner    *partner.Service
	Link       *link.Service
	Click      *click.Service
	Fraud      *fraud.Service
	Commission *commission.Service
	Experiment *experiment.Service
}

func RegisterRoutes(p Params) {
	h := &Handler{
		health:     p.Health,
		partner:    p.Partner,
		link:       p.Link,
		click:      p.Click,
		fraud:      p.Fraud,
		commission: p.Commission,
		experiment: p.Experiment,
	}

	e := p.Engine

	e.GET("/healthz", h.health.Liveness)
	e.GET("/readyz", h.health.Readiness)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))

	e.GET("/r/:code", h.Redirect)

	api := e.Group("/api/v1")
	{
		api.POST("/clicks", h.IngestClick)
		api.POST("/postback", h.Postback)

		api.POST("/partners", h.CreatePartner)
		api.PUT("/partners/:id/status", h.UpdatePartnerStatus)
		api.GET("/partners/:id/reputation", h.PartnerReputation)

		api.POST("/products", h.CreateProduct)
		api.POST("/campaigns", h.CreateCampaign)
		api.PUT("/campaigns/:id/status", h.UpdateCampaignStatus)

		api.POST("/links", h.CreateLink)
		api.GET("/links", h.ListLinks)
		api.POST("/links/:id/pause", h.PauseLink)
		api.POST("/links/health", h.LinkHealth)

		api.POST("/conversions/:id/approve", h.ApproveConversion)
		api.POST("/conversions/:id/reject", h.RejectConversion)
		api.POST("/conversions/:id/reverse", h.ReverseConversion)

		api.POST("/payouts", h.CreatePayout)
		api.POST("/payouts/:id/process", h.ProcessPayout)
		api.POST("/payouts/:id/complete", h.CompletePayout)
		api.POST("/payouts/:id/fail", h.FailPayout)

		api.POST("/experiments", h.CreateExperiment)
		api.GET("/experiments", h.ListExperiments)
		api.PUT("/experiments/:id/status", h.UpdateExperimentStatus)
		api.GET("/experiments/assignments/:user_id", h.ExperimentAssignments)
	}
}

// Redirect resolves a short code, gates it through validation and fraud
// scoring, records the click and 302s to the tracking target.
func (h *Handler) Redirect(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	l, err := h.link.Validate(ctx, code)
	if err != nil {
		c.Error(err)
		return
	}

	sessionID, err := c.Cookie(sessionCookie)
	if err != nil || sessionID == "" {
		sessionID, err = hashing.ShortCode(16)
		if err != nil {
			c.Error(errutil.Internal("failed to issue session id", errutil.WithErr(err)))
			return
		}
		c.SetCookie(sessionCookie, sessionID, int((30 * 24 * time.Hour).Seconds()), "/", "", false, true)
	}

	check, err := h.fraud.CheckClick(ctx, fraud.ClickInput{
		IPAddress: click.AnonymizeIP(c.ClientIP()),
		SessionID: sessionID,
		LinkID:    l.ID,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		c.Error(err)
		return
	}

	if !check.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "request blocked"})
		return
	}

	if _, err := h.click.Track(ctx, click.TrackRequest{
		LinkID:      l.ID,
		PartnerID:   l.PartnerID,
		ProductID:   l.ProductID,
		SessionID:   sessionID,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Referrer:    c.Request.Referer(),
		CountryCode: c.GetHeader("CF-IPCountry"),
	}); err != nil {
		c.Error(err)
		return
	}

	c.Redirect(http.StatusFound, l.TrackingURL)
}

type ingestClickRequest struct {
	ShortCode   string `json:"short_code"`
	LinkID      string `json:"link_id"`
	SessionID   string `json:"session_id" binding:"required"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`
	Referrer    string `json:"referrer"`
	CountryCode string `json:"country_code"`
}

func (h *Handler) IngestClick(c *gin.Context) {
	ctx := c.Request.Context()

	var req ingestClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	var l *link.Link
	var err error
	switch {
	case req.ShortCode != "":
		l, err = h.link.Validate(ctx, req.ShortCode)
	case req.LinkID != "":
		l, err = h.link.ResolveByID(ctx, req.LinkID)
	default:
		err = errutil.BadRequest("short_code or link_id is required")
	}
	if err != nil {
		c.Error(err)
		return
	}

	check, err := h.fraud.CheckClick(ctx, fraud.ClickInput{
		IPAddress: click.AnonymizeIP(req.IPAddress),
		SessionID: req.SessionID,
		LinkID:    l.ID,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		c.Error(err)
		return
	}

	if !check.Allowed {
		c.JSON(http.StatusOK, gin.H{
			"allowed":     false,
			"fraud_score": check.Score,
			"reason":      check.Reason,
		})
		return
	}

	tracked, err := h.click.Track(ctx, click.TrackRequest{
		LinkID:      l.ID,
		PartnerID:   l.PartnerID,
		ProductID:   l.ProductID,
		SessionID:   req.SessionID,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Referrer:    req.Referrer,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed":     true,
		"click_id":    tracked.ID,
		"fraud_score": check.Score,
	})
}

func (h *Handler) Postback(c *gin.Context) {
	var req commission.PostbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.commission.ProcessPostback(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) CreatePartner(c *gin.Context) {
	var req partner.CreatePartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	p, err := h.partner.CreatePartner(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePartnerStatus(c *gin.Context) {
	var req struct {
		Status partner.PartnerStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if err := h.partner.UpdatePartnerStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) PartnerReputation(c *gin.Context) {
	score, err := h.fraud.PartnerReputation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"partner_id": c.Param("id"), "reputation": score})
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var req partner.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	p, err := h.partner.CreateProduct(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *Handler) CreateCampaign(c *gin.Context) {
	var req partner.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	campaign, err := h.partner.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, campaign)
}

func (h *Handler) UpdateCampaignStatus(c *gin.Context) {
	var req struct {
		Status partner.CampaignStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if err := h.partner.UpdateCampaignStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateLink(c *gin.Context) {
	var req link.CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	l, err := h.link.Create(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLinks(c *gin.Context) {
	links, err := h.link.List(c.Request.Context(), c.Query("partner_id"), 0)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links})
}

func (h *Handler) PauseLink(c *gin.Context) {
	if err := h.link.Pause(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) LinkHealth(c *gin.Context) {
	unhealthy, err := h.link.CheckAllLinksHealth(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unhealthy": unhealthy})
}

type conversionNotesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) ApproveConversion(c *gin.Context) {
	var req conversionNotesRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.commission.Approve(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RejectConversion(c *gin.Context) {
	var req conversionNotesRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.commission.Reject(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ReverseConversion(c *gin.Context) {
	var req conversionNotesRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.commission.Reverse(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createPayoutRequest struct {
	PartnerID   string    `json:"partner_id" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

func (h *Handler) CreatePayout(c *gin.Context) {
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	p, err := h.commission.CreatePayout(c.Request.Context(), req.PartnerID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ProcessPayout(c *gin.Context) {
	if err := h.commission.MarkPayoutProcessing(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CompletePayout(c *gin.Context) {
	var req struct {
		TransactionRef string `json:"transaction_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if err := h.commission.CompletePayout(c.Request.Context(), c.Param("id"), req.TransactionRef); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) FailPayout(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.commission.FailPayout(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateExperiment(c *gin.Context) {
	var req experiment.CreateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	e, err := h.experiment.Create(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListExperiments(c *gin.Context) {
	experiments, err := h.experiment.ListActive(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"experiments": experiments})
}

func (h *Handler) UpdateExperimentStatus(c *gin.Context) {
	var req struct {
		Status experiment.ExperimentStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if err := h.experiment.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ExperimentAssignments(c *gin.Context) {
	assignments, err := h.experiment.GetAssignments(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, assignments)
}
