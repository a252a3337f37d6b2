package shared

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/user"
)

// NewValidator instantiates the validator with the english error messages
// and every custom validation of the domain packages.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	academic.InitValidators(validate, translator)
	return validate, translator
}
