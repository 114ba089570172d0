package handler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "contactlink/pkg/domain-errors"
)

func TestIdentifyRequestValidate(t *testing.T) {
	t.Run("accepts email only", func(t *testing.T) {
		req := &IdentifyRequest{Email: "a@example.com"}
		require.NoError(t, req.Validate())
	})

	t.Run("accepts phone only", func(t *testing.T) {
		req := &IdentifyRequest{PhoneNumber: "555-0100"}
		require.NoError(t, req.Validate())
	})

	t.Run("trims whitespace", func(t *testing.T) {
		req := &IdentifyRequest{Email: "  a@example.com  ", PhoneNumber: " 555-0100 "}
		require.NoError(t, req.Validate())
		assert.Equal(t, "a@example.com", req.Email)
		assert.Equal(t, "555-0100", req.PhoneNumber)
	})

	t.Run("rejects both fields empty", func(t *testing.T) {
		req := &IdentifyRequest{}
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects whitespace-only fields", func(t *testing.T) {
		req := &IdentifyRequest{Email: "   ", PhoneNumber: "\t"}
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects email without @", func(t *testing.T) {
		req := &IdentifyRequest{Email: "not-an-email"}
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects oversized fields", func(t *testing.T) {
		req := &IdentifyRequest{Email: strings.Repeat("a", 250) + "@example.com"}
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		req = &IdentifyRequest{PhoneNumber: strings.Repeat("9", 33)}
		err = req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
