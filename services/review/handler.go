package review

import (
	"net/http"

	"flowmarket/pkg/db/pagination"
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
	authn := r.Auth.Authenticate()

	r.API.GET("/workflows/:id/reviews", h.List)
	r.API.POST("/workflows/:id/reviews", authn, h.Create)
	r.API.PATCH("/reviews/:id", authn, h.Update)
	r.API.DELETE("/reviews/:id", authn, h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	var page pagination.Pagination
	if err := httpapi.BindQuery(c, &page); err != nil {
		_ = c.Error(err)
		return
	}

	items, info, summary, err := h.svc.List(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info, "summary": summary})
}

func (h *Handler) Create(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	var req CreateRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	r, err := h.svc.Create(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, r)
}

func (h *Handler) Update(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	var req UpdateRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	r, err := h.svc.Update(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, r)
}

func (h *Handler) Delete(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	if err := h.svc.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
