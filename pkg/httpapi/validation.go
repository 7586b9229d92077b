package httpapi

import (
	"errors"
	"io"
	"strings"

	"flowmarket/pkg/access"
	"flowmarket/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the custom tags used by request structs to gin's
// validator. Safe to call more than once.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected gin validator engine")
	}
	return v.RegisterValidation("role", validateRole)
}

func validateRole(fl validator.FieldLevel) bool {
	return access.Role(strings.ToUpper(fl.Field().String())).Valid()
}

// BindJSON binds and validates the request body, turning failures into a
// ValidationFailed error with one detail per field.
func BindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return bindError(err)
	}
	return nil
}

func BindQuery(c *gin.Context, dst any) error {
	if err := c.ShouldBindQuery(dst); err != nil {
		return bindError(err)
	}
	return nil
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]errutil.Detail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, errutil.Detail{
				Field:   strings.ToLower(fe.Field()),
				Message: fieldMessage(fe),
			})
		}
		return errutil.ValidationFailed("invalid request", err, errutil.WithDetails(details...))
	}
	if errors.Is(err, io.EOF) {
		return errutil.BadRequest("request body is required", err)
	}
	return errutil.BadRequest("malformed request", err)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "role":
		return "must be ADMIN, DEVELOPER or BUYER"
	default:
		return "is invalid"
	}
}

// Bind binds form or multipart fields according to the request content type.
func Bind(c *gin.Context, dst any) error {
	if err := c.ShouldBind(dst); err != nil {
		return bindError(err)
	}
	return nil
}
