package cel

// FilterExpressionExamples lists admission filters that compile against the
// event environment.
var FilterExpressionExamples = map[string]string{
	"topic_allowlist":      `topic in ["orders", "payments", "audit"]`,
	"topic_prefix":         `topic.startsWith("app.")`,
	"source_equals":        `source == "api-gateway"`,
	"payload_field":        `payload.status == "active"`,
	"numeric_greater_than": `payload.amount > 100.0`,
	"has_field":            `has(payload.user_id)`,
	"recent_only":          `timestamp > timestamp("2020-01-01T00:00:00Z")`,
	"event_id_format":      `event_id.matches("^[a-zA-Z0-9._-]+$")`,
	"combined_conditions":  `topic != "" && source != "test-harness" && size(event_id) <= 128`,
}
