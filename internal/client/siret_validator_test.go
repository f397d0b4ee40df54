package client

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCheckSIRETFormat(t *testing.T) {
	tests := []struct {
		name  string
		siret string
		want  bool
	}{
		{"valid La Poste siege", "35600000000048", true},
		{"valid random establishment", "73282932000074", true},
		{"too short", "3560000000004", false},
		{"too long", "356000000000481", false},
		{"letters", "3560000000004A", false},
		{"bad checksum", "35600000000049", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckSIRETFormat(tt.siret))
		})
	}
}

func TestValidateDegradesToFormatOnly(t *testing.T) {
	// no token configured: no Sirene lookup, format result only
	v := NewSIRETValidator("https://api.example", "", 0, zerolog.Nop())

	result := v.Validate(context.Background(), "35600000000048")
	assert.True(t, result.IsValid)
	assert.True(t, result.FormatOnly)
	assert.Equal(t, "356000000", result.SIREN)
	assert.Equal(t, "00048", result.NIC)
}

func TestValidateRejectsBadFormat(t *testing.T) {
	v := NewSIRETValidator("https://api.example", "", 0, zerolog.Nop())

	result := v.Validate(context.Background(), "not-a-siret")
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Error)
}
