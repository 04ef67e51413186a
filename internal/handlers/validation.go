package handlers

import (
	"errors"
	"reflect"
	"strings"

	"estatehub/internal/common"
	"estatehub/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindAndValidate decodes the request body into req and checks its
// validate tags. On failure the error response has already been written
// and the returned error is what the handler should return.
func bindAndValidate(c echo.Context, req interface{}) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, common.SendValidationError(c, "body", "invalid request format")
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return false, common.SendValidationError(c, fieldErrs[0].Field(), validationMessage(fieldErrs[0]))
		}
		return false, common.SendValidationError(c, "body", err.Error())
	}
	return true, nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters long"
	case "gt":
		return "must be greater than " + fe.Param()
	case "alpha":
		return "must contain letters only"
	default:
		return "is invalid"
	}
}

// actorFrom returns the authenticated caller, writing a 401 when absent.
func actorFrom(c echo.Context) (actor models.Actor, ok bool, err error) {
	actor, ok = common.GetActorFromContext(c.Request().Context())
	if !ok {
		return actor, false, common.SendUnauthorizedError(c)
	}
	return actor, true, nil
}
