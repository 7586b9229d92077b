package purchase

import (
	"net/http"

	"flowmarket/pkg/access"
	"flowmarket/pkg/httpapi"
	"flowmarket/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *httpapi.Router, h *Handler, webhook *WebhookHandler) {
	authn := r.Auth.Authenticate()

	r.Engine.POST("/webhooks/payment", webhook.Handle)

	r.API.POST("/workflows/:id/checkout", authn, h.Checkout)
	r.API.GET("/me/purchases", authn, h.ListPurchases)
	r.API.GET("/me/earnings", authn, middleware.RequireAnyRole(access.RoleDeveloper, access.RoleAdmin), h.ListEarnings)

	r.Admin.POST("/earnings/:id/payout", h.SetPayoutStatus)
}

func (h *Handler) Checkout(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	res, err := h.svc.Checkout(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListPurchases(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	items, err := h.svc.ListPurchases(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *Handler) ListEarnings(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	summary, err := h.svc.ListEarnings(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) SetPayoutStatus(c *gin.Context) {
	var req PayoutRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	e, err := h.svc.SetPayoutStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, e)
}
