package domain

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Arcade ")
	require.NoError(t, err)
	assert.Equal(t, ModeArcade, mode)

	mode, err = ParseMode("precision")
	require.NoError(t, err)
	assert.Equal(t, ModePrecision, mode)

	_, err = ParseMode("deathmatch")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseMode("")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEventInput_Validate(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   EventInput
		wantErr bool
	}{
		{"valid hit", EventInput{Type: EventTypeShot, Ts: ts, Hit: true, Distance: 12}, false},
		{"zero distance", EventInput{Type: EventTypeShot, Ts: ts, Distance: 0}, false},
		{"unknown type", EventInput{Type: "reload", Ts: ts, Distance: 1}, true},
		{"missing type", EventInput{Ts: ts, Distance: 1}, true},
		{"missing ts", EventInput{Type: EventTypeShot, Distance: 1}, true},
		{"negative distance", EventInput{Type: EventTypeShot, Ts: ts, Distance: -0.5}, true},
		{"nan distance", EventInput{Type: EventTypeShot, Ts: ts, Distance: math.NaN()}, true},
		{"infinite distance", EventInput{Type: EventTypeShot, Ts: ts, Distance: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegisterPlayerRequest_Normalize(t *testing.T) {
	req := RegisterPlayerRequest{Name: "  John Doe ", Email: " John.Doe@Example.com "}
	require.NoError(t, req.Normalize())
	assert.Equal(t, "John Doe", req.Name)
	assert.Equal(t, "john.doe@example.com", req.Email)

	bad := RegisterPlayerRequest{Name: "", Email: "a@b.c"}
	assert.ErrorIs(t, bad.Normalize(), ErrValidation)

	bad = RegisterPlayerRequest{Name: "Jane", Email: "not-an-email"}
	assert.ErrorIs(t, bad.Normalize(), ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("getting session: %w", ErrSessionNotFound)
	assert.True(t, IsNotFoundError(wrapped))
	assert.False(t, IsConflictError(wrapped))

	assert.True(t, IsConflictError(fmt.Errorf("finishing: %w", ErrSessionAlreadyFinished)))
	assert.True(t, IsConflictError(ErrActiveSessionExists))
	assert.True(t, IsConflictError(fmt.Errorf("finishing session: %w", ErrSessionChanged)))
	assert.True(t, IsValidationError(fmt.Errorf("%w: bad", ErrValidation)))
	assert.False(t, IsValidationError(ErrForbidden))
}
