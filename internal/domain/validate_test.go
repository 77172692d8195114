package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Username string  `json:"username" validate:"required,min=2"`
	Avatar   *string `json:"avatarUrl" validate:"omitempty,url"`
	Kind     string  `json:"kind" validate:"omitempty,oneof=dm group"`
	Internal string  `json:"-" validate:"max=3"`
}

func TestValidateStruct(t *testing.T) {
	bad := "not a url"
	good := "https://example.com/a.png"

	tests := []struct {
		name    string
		in      signup
		field   string
		message string
	}{
		{"valid", signup{Username: "al", Avatar: &good, Kind: "dm"}, "", ""},
		{"missing username", signup{}, "username", "is required"},
		{"short username", signup{Username: "a"}, "username", "must be at least 2 long"},
		{"bad url", signup{Username: "al", Avatar: &bad}, "avatarUrl", "must be a valid URL"},
		{"bad kind", signup{Username: "al", Kind: "channel"}, "kind", "must be one of dm, group"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.in)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, tt.message, ve.Message)
		})
	}
}
