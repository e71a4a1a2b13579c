package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is the stored shape of a Record. session_id and event_value are
// never omitted: a nil value is written as an explicit null.
type Document struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
	SessionID    *string            `bson:"session_id" json:"session_id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	GroupID      string             `bson:"group_id,omitempty" json:"group_id,omitempty"`
	EventType    string             `bson:"event_type" json:"event_type"`
	EventName    string             `bson:"event_name" json:"event_name"`
	EventValue   any                `bson:"event_value" json:"event_value"`
	EventContext map[string]any     `bson:"event_context" json:"event_context"`
	Save         bool               `bson:"save" json:"save"`
}

const serializationErrorKey = "_serialization_error"

// Normalize converts rec into its stored form. The context goes through a
// JSON round trip so only plain maps, slices, strings, numbers and bools
// remain. When the value or context cannot be serialized the offending part
// is replaced with a stringified representation and a KindSerialization
// error is returned alongside a document that is still safe to store.
func Normalize(rec Record) (Document, error) {
	doc := Document{
		Timestamp: rec.Timestamp.UTC(),
		SessionID: rec.SessionID,
		UserID:    rec.ParticipantID,
		GroupID:   rec.GroupID,
		EventType: string(rec.EventType),
		EventName: rec.EventName,
		Save:      rec.Persist,
	}

	var errs []error

	value, err := normalizeValue(rec.EventValue)
	if err != nil {
		errs = append(errs, fmt.Errorf("event_value: %w", err))
	}
	doc.EventValue = value

	ctx, err := normalizeContext(rec.EventContext)
	if err != nil {
		errs = append(errs, fmt.Errorf("event_context: %w", err))
		ctx = stringifyContext(rec.EventContext, err)
	}
	doc.EventContext = ctx

	if len(errs) > 0 {
		return doc, &SinkError{Kind: KindSerialization, Err: errors.Join(errs...)}
	}
	return doc, nil
}

func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f), fmt.Errorf("non-finite number %v", f)
		}
		return f, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
	}
	return stringify(v), fmt.Errorf("unsupported scalar %T", v)
}

func normalizeContext(ctx map[string]any) (map[string]any, error) {
	if ctx == nil {
		return nil, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return plain(out).(map[string]any), nil
}

// plain replaces json.Number with int64 or float64.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = plain(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = plain(item)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}

// stringifyContext keeps every top-level key it can encode and records the
// type name for the ones it cannot.
func stringifyContext(ctx map[string]any, cause error) map[string]any {
	out := make(map[string]any, len(ctx)+1)
	for k, v := range ctx {
		out[k] = stringify(v)
	}
	out[serializationErrorKey] = cause.Error()
	return out
}

func stringify(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(data)
}
