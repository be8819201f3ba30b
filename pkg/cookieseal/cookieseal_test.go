package cookieseal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	so := assert.New(t)

	sealer := New("0123456789abcdef0123456789abcdef")

	sealed, err := sealer.Seal("session-id-42")
	require.NoError(t, err)
	so.NotEqual("session-id-42", sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	so.Equal("session-id-42", opened)
}

func TestOpen_rejectsForeignAndGarbage(t *testing.T) {
	so := assert.New(t)

	sealer := New("0123456789abcdef0123456789abcdef")
	other := New("fedcba9876543210fedcba9876543210")

	sealed, err := sealer.Seal("session-id-42")
	so.NoError(err)

	_, err = other.Open(sealed)
	so.Error(err, "value sealed with another key must not open")

	_, err = sealer.Open("not base64 at all%%%")
	so.Error(err)
}
