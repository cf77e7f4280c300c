package errs

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	translator, _ = uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	// Report json names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// FieldErrors collects per field validation messages.
type FieldErrors map[string]string

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	var b strings.Builder
	first := true
	for field, msg := range fe {
		if !first {
			b.WriteString("; ")
		}
		first = false
		b.WriteString(field)
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// Check validates val against its validate tags and returns an
// InvalidArgument error listing each failing field in English.
func Check(val any) error {
	err := validate.Struct(val)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(FieldErrors, len(verrs))
	for _, verr := range verrs {
		fields[verr.Field()] = verr.Translate(translator)
	}

	e := New(InvalidArgument, fields)
	e.Fields = make(map[string]any, len(fields))
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}
