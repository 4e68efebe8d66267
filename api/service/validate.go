package service

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/peer-mapper/trust-indexer/api/util"
)

// RegisterValidators installs the custom binding tags on gin's
// validator: bytes32 and eth_sig.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}

	v.RegisterTagNameFunc(fieldName)
	if err := v.RegisterValidation("bytes32", func(fl validator.FieldLevel) bool {
		return util.IsBytes32(fl.Field().String())
	}); err != nil {
		return err
	}

	return v.RegisterValidation("eth_sig", func(fl validator.FieldLevel) bool {
		return util.IsSignature(fl.Field().String())
	})
}
