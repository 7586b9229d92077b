package user

import (
	"net/http"

	"flowmarket/pkg/db/pagination"
	"flowmarket/pkg/errutil"
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

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	r.API.GET("/me", r.Auth.Authenticate(), h.Me)

	r.Admin.GET("/users", h.List)
	r.Admin.PUT("/users/:id/roles", h.UpdateRoles)
}

func (h *Handler) Me(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	u, err := h.svc.Get(c.Request.Context(), p.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, u)
}

func (h *Handler) List(c *gin.Context) {
	var page pagination.Pagination
	if err := httpapi.BindQuery(c, &page); err != nil {
		_ = c.Error(err)
		return
	}

	users, info, err := h.svc.List(c.Request.Context(), page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": users, "page_info": info})
}

func (h *Handler) UpdateRoles(c *gin.Context) {
	var req UpdateRolesRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	u, err := h.svc.UpdateRoles(c.Request.Context(), c.Param("id"), req.Roles)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, u)
}
