package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCallerIdentifiers(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/accounts/:id/usage"),
		attribute.String("actor_id", "agent-7"),
		attribute.String("transaction_id", "txn_1"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	err := SafeError(errors.New("first line\nSELECT * FROM secrets"))
	assert.Equal(t, "first line", err.Error())

	long := SafeError(errors.New(strings.Repeat("x", 400)))
	assert.Len(t, long.Error(), 256)
}
