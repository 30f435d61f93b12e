package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/orgs"),
		attribute.String("invite.token", "raw"),
		attribute.String("user.email", "a@b.c"),
	)
	if assert.Len(t, attrs, 1) {
		assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	}
}

func TestSafeErrorRedactsSensitiveMessages(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New("invalid token abc")), "redacted error")
	assert.EqualError(t, SafeError(errors.New("not_a_member")), "not_a_member")
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(3))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
