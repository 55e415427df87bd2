package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

const defaultRequestTimeout = 15 * time.Second

var validate = validator.New()

func init() {
	// report json field names instead of Go field names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// bindJSON decodes the body into dst and runs its validate tags.
func bindJSON(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return apperror.Validation("", "request body is required")
	}
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return apperror.Validation("", "request body is not valid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperror.Validation(fe.Field(), validationMessage(fe))
		}
		return apperror.Validation("", err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}

// requestContext derives a bounded context from the request.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(c.UserContext(), timeout)
}

// publicMessage is the text shown to API clients. Raw gateway payloads stay in
// the dev-only details field.
func publicMessage(err error) string {
	var (
		ve *apperror.ValidationError
		ne *apperror.NotFoundError
		ce *apperror.ConfigurationError
		ge *apperror.GatewayError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ne):
		return err.Error()
	case errors.As(err, &ce):
		return "payment service is not configured"
	case errors.As(err, &ge):
		if ge.Retryable {
			return "payment gateway is temporarily unavailable, please try again later"
		}
		if ge.Message != "" {
			return ge.Message
		}
		return "payment gateway rejected the request"
	default:
		return "internal server error"
	}
}

// respondError writes the standard failure body.
func respondError(c *fiber.Ctx, err error) error {
	status := apperror.HTTPStatus(err)
	body := fiber.Map{
		"success": false,
		"error":   apperror.Code(err),
		"message": publicMessage(err),
	}
	if apperror.IsRetryable(err) {
		body["retryable"] = true
	}
	if env.IsDev() {
		body["details"] = err.Error()
	}
	if status >= fiber.StatusInternalServerError {
		logger.Component("http").WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.Status(status).JSON(body)
}
