package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"postvolve/models"
)

// RegisterValidators adds the custom binding tags: "platform" accepts a
// supported network name.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return models.IsValidPlatform(fl.Field().String())
	})
}
