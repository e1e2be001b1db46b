package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"event":"task.completed","task_id":"42"}`)

	first := Sign(payload, "secret-key")
	second := Sign(payload, "secret-key")

	assert.Equal(t, first, second, "identical inputs must yield identical signatures")
	assert.NotEmpty(t, first)
}

func TestSignReferenceVector(t *testing.T) {
	// Independently computed: base64(HMAC-SHA256("s3cr3t", `{"a":1}`)).
	signature := Sign([]byte(`{"a":1}`), "s3cr3t")
	assert.Equal(t, "1CknQ0BJ4LjHPOiHBiI4zBxrtmRL/mbmbY3Q8wuFZ54=", signature)
}

func TestSignSensitivity(t *testing.T) {
	payload := []byte(`{"a":1}`)

	assert.NotEqual(t, Sign(payload, "s3cr3t"), Sign(payload, "other"),
		"different secrets must produce different signatures")
	assert.NotEqual(t, Sign(payload, "s3cr3t"), Sign([]byte(`{"a":2}`), "s3cr3t"),
		"different payloads must produce different signatures")
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"test":"data"}`)
	signature := Sign(payload, "test-secret")

	tests := []struct {
		name      string
		payload   []byte
		secret    string
		signature string
		expected  bool
	}{
		{"valid signature", payload, "test-secret", signature, true},
		{"wrong secret", payload, "wrong-secret", signature, false},
		{"modified payload", []byte(`{"test":"modified"}`), "test-secret", signature, false},
		{"garbage signature", payload, "test-secret", "not-base64-at-all", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Verify(tt.payload, tt.secret, tt.signature))
		})
	}
}
