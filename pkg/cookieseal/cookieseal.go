package cookieseal

import (
	"encoding/base64"

	"github.com/gtank/cryptopasta"
	"github.com/pkg/errors"
)

// Sealer encrypts cookie values so the session ID inside the refresh cookie
// is opaque to the browser and tamper-evident to the server.
type Sealer struct {
	secret *[32]byte
}

func New(secretString string) *Sealer {
	secret := &[32]byte{}
	copy(secret[:], secretString)
	return &Sealer{secret: secret}
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	sealed, err := cryptopasta.Encrypt([]byte(plaintext), s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to seal cookie value")
	}
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode cookie value")
	}
	opened, err := cryptopasta.Decrypt(decoded, s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to open cookie value")
	}
	return string(opened), nil
}
