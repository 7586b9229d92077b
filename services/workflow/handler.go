package workflow

import (
	"errors"
	"net/http"

	"flowmarket/pkg/access"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/httpapi"
	"flowmarket/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// multipart overhead on top of the file itself
const maxUploadBody = MaxFileSize + 1<<20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	authn := r.Auth.Authenticate()
	sellers := middleware.RequireAnyRole(access.RoleDeveloper, access.RoleAdmin)

	r.API.GET("/workflows", h.ListPublic)
	r.API.GET("/workflows/:id", r.Auth.OptionalAuth(), h.Get)
	r.API.POST("/workflows", authn, sellers, h.Create)
	r.API.PATCH("/workflows/:id", authn, h.Update)
	r.API.DELETE("/workflows/:id", authn, h.Delete)
	r.API.GET("/workflows/:id/download", authn, h.Download)
	r.API.GET("/me/workflows", authn, sellers, h.ListMine)

	r.Admin.GET("/workflows/queue", h.ListQueue)
	r.Admin.POST("/workflows/:id/approve", h.Approve)
	r.Admin.POST("/workflows/:id/reject", h.Reject)
}

func (h *Handler) Create(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)

	var in CreateInput
	if err := httpapi.Bind(c, &in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = errutil.RequestTooLarge("workflow file too large", err)
		}
		_ = c.Error(err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid workflow", err, errutil.WithField("file", "is required")))
		return
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(errutil.BadRequest("failed to read workflow file", err))
		return
	}
	defer f.Close()

	wf, err := h.svc.Create(c.Request.Context(), p, in, Upload{Name: fh.Filename, Size: fh.Size, Reader: f})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, wf)
}

func (h *Handler) Get(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	wf, err := h.svc.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

func (h *Handler) ListPublic(c *gin.Context) {
	var q ListQuery
	if err := httpapi.BindQuery(c, &q); err != nil {
		_ = c.Error(err)
		return
	}

	items, info, err := h.svc.ListPublic(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info})
}

func (h *Handler) ListMine(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	items, err := h.svc.ListMine(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *Handler) Update(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	var req UpdateRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	wf, err := h.svc.Update(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

func (h *Handler) Delete(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	if err := h.svc.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Download(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)

	link, err := h.svc.Download(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (h *Handler) ListQueue(c *gin.Context) {
	items, err := h.svc.ListQueue(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *Handler) Approve(c *gin.Context) {
	wf, err := h.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

func (h *Handler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	wf, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, wf)
}
