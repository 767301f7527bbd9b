package event

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	pkgerrors "aggregator/pkg/errors"
)

// wireRecord mirrors the JSON submitted by producers before validation.
type wireRecord struct {
	Topic     string  `json:"topic" validate:"required,max=255"`
	EventID   string  `json:"event_id" validate:"required,max=255"`
	Timestamp string  `json:"timestamp" validate:"required,iso8601"`
	Source    string  `json:"source" validate:"required,max=255"`
	Payload   Payload `json:"payload" validate:"required,json_object"`
}

type batchEnvelope struct {
	Events []json.RawMessage `json:"events"`
}

// FieldError describes one failed constraint on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return jsonName(fld.Tag.Get("json"))
	})
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := ParseTimestamp(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("json_object", func(fl validator.FieldLevel) bool {
		p, ok := fl.Field().Interface().(Payload)
		return ok && p.IsObject()
	})
	return v
}

// Decode parses a submission in any of the accepted shapes: a single event
// object, {"events": [...]}, or a bare array. Either every record is valid
// and returned, or a validation error is returned and nothing is.
func Decode(body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, validationError("no data provided", nil)
	}
	if !utf8.Valid(body) {
		return nil, errInvalidUTF8()
	}

	var raws []json.RawMessage
	var shape string

	switch body[0] {
	case '[':
		shape = "batch array"
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, validationError("invalid JSON format", err)
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, validationError("invalid JSON format", err)
		}
		if _, ok := envelope["events"]; ok {
			shape = "batch object"
			var env batchEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, validationError("validation failed for batch object", err).
					WithDetail("fields", []FieldError{{Field: "events", Message: "must be a list of events", Type: "list_type"}})
			}
			raws = env.Events
		} else {
			shape = "single event"
			raws = []json.RawMessage{json.RawMessage(body)}
		}
	default:
		return nil, validationError("invalid data format, expected object or array", nil)
	}

	if len(raws) == 0 {
		return nil, validationError("no valid events to process", nil)
	}

	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		rec, fields, err := decodeOne(raw)
		if err != nil || len(fields) > 0 {
			msg := fmt.Sprintf("validation failed for event at index %d", i)
			if shape == "single event" {
				msg = "validation failed for single event"
			}
			appErr := validationError(msg, err).WithDetail("index", i)
			if len(fields) > 0 {
				appErr = appErr.WithDetail("fields", fields)
			}
			return nil, appErr
		}
		records = append(records, rec)
	}

	return records, nil
}

// DecodeOne parses and validates exactly one event object.
func DecodeOne(raw []byte) (Record, error) {
	if !utf8.Valid(raw) {
		return Record{}, errInvalidUTF8()
	}
	rec, fields, err := decodeOne(raw)
	if err != nil || len(fields) > 0 {
		appErr := validationError("validation failed for single event", err)
		if len(fields) > 0 {
			appErr = appErr.WithDetail("fields", fields)
		}
		return Record{}, appErr
	}
	return rec, nil
}

func decodeOne(raw []byte) (Record, []FieldError, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Record{}, []FieldError{{Field: "", Message: "event must be a JSON object", Type: "model_type"}}, nil
	}

	var w wireRecord
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Record{}, nil, err
	}

	if err := validate.Struct(w); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return Record{}, nil, err
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Type:    fe.Tag(),
			})
		}
		return Record{}, fields, nil
	}

	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return Record{}, nil, err
	}

	return Record{
		Topic:     w.Topic,
		EventID:   w.EventID,
		Timestamp: ts,
		Source:    w.Source,
		Payload:   w.Payload,
	}, nil, nil
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "iso8601":
		return "invalid ISO8601 timestamp format"
	case "json_object":
		return "must be a JSON object"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

// errInvalidUTF8 rejects bodies whose strings could never be stored as text.
func errInvalidUTF8() *pkgerrors.Error {
	return validationError("request body is not valid UTF-8", nil)
}

func validationError(msg string, cause error) *pkgerrors.Error {
	err := pkgerrors.ErrValidation.WithDetail("message", msg)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
