package loader

import (
	"errors"

	"github.com/tidwall/gjson"
)

var errInvalidJSON = errors.New("invalid JSON")

func decodeJSON(source string, data []byte) (map[string]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{
			Path:    source,
			Message: errInvalidJSON.Error(),
			Err:     errInvalidJSON,
		}
	}
	result := gjson.ParseBytes(data)
	if !result.IsObject() {
		return nil, &ParseError{
			Path:    source,
			Message: "top level must be an object",
			Err:     errInvalidJSON,
		}
	}
	config, _ := result.Value().(map[string]any)
	if config == nil {
		config = make(map[string]any)
	}
	return config, nil
}
