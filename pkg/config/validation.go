package config

import (
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("abspath", validateAbsPath)
	_ = validate.RegisterValidation("mongouri", validateMongoURI)
}

// remote paths are POSIX regardless of where swapctl runs
func validateAbsPath(fl validator.FieldLevel) bool {
	return path.IsAbs(fl.Field().String())
}

func validateMongoURI(fl validator.FieldLevel) bool {
	uri := fl.Field().String()
	return strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://")
}

func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
