package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/3leaps/gomian/pkg/request"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("attr"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// zeroParams is a Variant.Params factory for params whose defaults all come
// from the field schema.
func zeroParams[T any]() func() any {
	return func() any { return new(T) }
}

// paramsFrom is a Variant.Params factory seeded by a defaults constructor.
func paramsFrom[T any](defaults func() T) func() any {
	return func() any {
		p := defaults()
		return &p
	}
}

// Decode copies the context's attributes into out, a pointer to a params
// struct tagged with `attr` names and `validate` rules. Decoding is weakly
// typed so form strings such as "10" fill int fields. Failures are returned
// as *request.ValidationError naming the offending field.
func Decode(attrs request.Attributes, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "attr",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("analysis: params decoder: %w", err)
	}
	if err := dec.Decode(attrs.Map()); err != nil {
		return &request.ValidationError{Field: decodeErrorField(err), Reason: err.Error()}
	}

	if err := paramsValidator().Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &request.ValidationError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("failed %q rule", ruleOf(fe)),
			}
		}
		return &request.ValidationError{Reason: err.Error()}
	}
	return nil
}

func ruleOf(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// decodeErrorField extracts the field name from a mapstructure error such
// as "'numTrees' cannot parse 'x' as int".
func decodeErrorField(err error) string {
	msg := err.Error()
	start := strings.Index(msg, "'")
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], "'")
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
