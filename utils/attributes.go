package utils

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a loosely typed set of backend attributes as read from a config file.
type AttributeMap map[string]interface{}

// TransformAttributeMapToStruct decodes attributes into a new T using the json field tags. T is
// usually a pointer to a struct. Unknown attributes are an error.
func TransformAttributeMapToStruct[T any](attributes AttributeMap) (T, error) {
	var out T
	var forResult interface{}
	if toT := reflect.TypeOf(out); toT != nil && toT.Kind() == reflect.Ptr {
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate attribute type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      forResult,
		ErrorUnused: true,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return out, errors.Wrap(err, "cannot decode attributes")
	}
	return out, nil
}
