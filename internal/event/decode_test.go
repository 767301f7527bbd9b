package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "aggregator/pkg/errors"
)

const validEvent = `{"topic":"orders","event_id":"e1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{"k":1}}`

func TestDecode_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
	}{
		{name: "single object", body: validEvent, count: 1},
		{name: "batch object", body: `{"events":[` + validEvent + `,` + validEvent + `]}`, count: 2},
		{name: "bare array", body: `[` + validEvent + `]`, count: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			require.Len(t, records, tt.count)

			rec := records[0]
			assert.Equal(t, "orders", rec.Topic)
			assert.Equal(t, "e1", rec.EventID)
			assert.Equal(t, "svc", rec.Source)
			assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rec.Timestamp)
			assert.JSONEq(t, `{"k":1}`, string(rec.Payload))
		})
	}
}

func TestDecode_AllOrNothing(t *testing.T) {
	body := `[` + validEvent + `,{"topic":"orders","event_id":"e2","timestamp":"not-a-date","source":"svc","payload":{}}]`

	records, err := Decode([]byte(body))
	require.Error(t, err)
	assert.Nil(t, records)
	assert.True(t, pkgerrors.IsValidation(err))

	resp := pkgerrors.ToErrorResponse(err)
	assert.Equal(t, "validation failed for event at index 1", resp["error"])
	details := resp["details"].(map[string]interface{})
	assert.Equal(t, 1, details["index"])
	fields := details["fields"].([]FieldError)
	require.Len(t, fields, 1)
	assert.Equal(t, "timestamp", fields[0].Field)
}

func TestDecode_Rejections(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ``},
		{name: "empty array", body: `[]`},
		{name: "empty batch object", body: `{"events":[]}`},
		{name: "scalar", body: `42`},
		{name: "malformed json", body: `{"topic":`},
		{name: "missing topic", body: `{"event_id":"e1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}`},
		{name: "empty event id", body: `{"topic":"t","event_id":"","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}`},
		{name: "topic too long", body: `{"topic":"` + string(long) + `","event_id":"e1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}`},
		{name: "payload array", body: `{"topic":"t","event_id":"e1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":[1]}`},
		{name: "payload missing", body: `{"topic":"t","event_id":"e1","timestamp":"2024-01-01T00:00:00Z","source":"svc"}`},
		{name: "array element not object", body: `[1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, records)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestDecode_MaxLengthBoundary(t *testing.T) {
	id := make([]byte, 255)
	for i := range id {
		id[i] = 'x'
	}
	body := `{"topic":"t","event_id":"` + string(id) + `","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}`

	records, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Len(t, records[0].EventID, 255)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2024-03-05T10:30:00Z", want: want},
		{in: "2024-03-05T10:30:00+00:00", want: want},
		{in: "2024-03-05T12:30:00+02:00", want: want},
		{in: "2024-03-05T10:30:00", want: want},
		{in: "2024-03-05 10:30:00", want: want},
		{in: "2024-03-05T10:30:00.250Z", want: want.Add(250 * time.Millisecond)},
		{in: "2024-03-05", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestPayload(t *testing.T) {
	p := Payload(`{"a":{"b":2}}`)
	assert.True(t, p.IsObject())

	m, err := p.Map()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"b": float64(2)}, m["a"])

	assert.False(t, Payload(`[1,2]`).IsObject())
	assert.False(t, Payload(`{"a":`).IsObject())

	out, err := Payload(nil).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestDecode_RejectsInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "topic", body: "{\"topic\":\"t\xff\",\"event_id\":\"e1\",\"timestamp\":\"2024-01-01T00:00:00Z\",\"source\":\"svc\",\"payload\":{}}"},
		{name: "payload value", body: "{\"topic\":\"t\",\"event_id\":\"e1\",\"timestamp\":\"2024-01-01T00:00:00Z\",\"source\":\"svc\",\"payload\":{\"k\":\"\xfe\xfd\"}}"},
		{name: "batch element", body: "[" + validEvent + ",{\"topic\":\"t\",\"event_id\":\"\xc3\",\"timestamp\":\"2024-01-01T00:00:00Z\",\"source\":\"svc\",\"payload\":{}}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, records)
			assert.True(t, pkgerrors.IsValidation(err))
			assert.Equal(t, "request body is not valid UTF-8", pkgerrors.ToErrorResponse(err)["error"])

			_, err = DecodeOne([]byte(tt.body))
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestDecode_AcceptsMultibyteUTF8(t *testing.T) {
	body := `{"topic":"заказы","event_id":"é1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{"emoji":"✓"}}`

	records, err := Decode([]byte(body))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "заказы", records[0].Topic)
}
