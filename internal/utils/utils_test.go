package utils

import (
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type portalInput struct {
	Phone    string `validate:"required,ke_phone"`
	MAC      string `validate:"omitempty,mac"`
	Password string `validate:"omitempty,strong_password"`
}

func TestValidateStruct_CustomTags(t *testing.T) {
	tests := []struct {
		name  string
		input portalInput
		field string
	}{
		{"local format", portalInput{Phone: "0712345678"}, ""},
		{"international", portalInput{Phone: "+254112345678", MAC: "AA:bb:cc:dd:ee:ff"}, ""},
		{"landline", portalInput{Phone: "0201234567"}, "phone"},
		{"short mac", portalInput{Phone: "0712345678", MAC: "aa:bb:cc"}, "mac"},
		{"weak password", portalInput{Phone: "0712345678", Password: "password"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errs := GetValidationErrors(err)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestJWT_RoundTrip(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateJWT(42, "ops@example.com", "operator", 1)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.OperatorID)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, "42", claims.Subject)

	SetJWTSecret("rotated")
	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestJWT_RejectsForeignIssuer(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		OperatorID:       1,
		Role:             "operator",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ValidateJWT(token)
	assert.EqualError(t, err, "invalid token issuer")
}

func TestConstantTimeEqual(t *testing.T) {
	token, err := GenerateCallbackToken()
	require.NoError(t, err)
	assert.Len(t, token, 32)

	assert.True(t, ConstantTimeEqual(token, token))
	assert.False(t, ConstantTimeEqual(token, token[:31]))
	assert.False(t, ConstantTimeEqual("", token))
}
