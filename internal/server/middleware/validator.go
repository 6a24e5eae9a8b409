package middleware

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

// collectionName matches names a local store can hold as a collection.
var collectionName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

type Validator struct {
	validate *validator.Validate
}

// NewValidator reports fields by their json/param/query/header names and
// knows two extra tags:
//   - collection: a valid collection name
//   - docid: a document carrying a non-empty string id
func NewValidator() *Validator {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "param", "query", "header"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	_ = validate.RegisterValidation("collection", func(fl validator.FieldLevel) bool {
		return collectionName.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("docid", func(fl validator.FieldLevel) bool {
		doc, ok := fl.Field().Interface().(models.Document)
		return ok && doc.ID() != ""
	})

	return &Validator{validate: validate}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
