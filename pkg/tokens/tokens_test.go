package tokens

import (
	"crypto/rsa"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func genKeyPair() (*rsa.PrivateKey, error) {
	pk, err := rsa.GenerateKey(
		rand.New(rand.NewSource(time.Now().UnixNano())),
		1024)
	return pk, err
}

func TestTokens__properTTL(t *testing.T) {
	so := assert.New(t)

	pk, err := genKeyPair()
	so.Nil(err)

	author := New(Config{
		AccessTTL:   time.Second * 2,
		SignKey:     pk,
		ValidateKey: &pk.PublicKey,
	})

	tok, err := author.Generate("alice@mealdesk.test")
	so.Nil(err)
	so.NotEqual("", tok.Token, "token shouldn't be empty")
	so.True(tok.ExpiresAt.After(tok.IssuedAt))

	gotUser, issuedAt, expiresAt, err := author.Check(tok.Token)
	so.Nil(err, "access token should extract user successfully")
	so.Equal("alice@mealdesk.test", gotUser)
	so.Equal(tok.IssuedAt.Unix(), issuedAt.Unix())
	so.Equal(tok.ExpiresAt.Unix(), expiresAt.Unix())

	<-time.After(time.Second * 3)

	_, _, _, err = author.Check(tok.Token)
	so.NotNil(err, "access token should expire by now")
}

func TestTokens__rejectsForeignKey(t *testing.T) {
	so := assert.New(t)

	pk, err := genKeyPair()
	so.Nil(err)
	otherPk, err := genKeyPair()
	so.Nil(err)

	author := New(Config{AccessTTL: time.Minute, SignKey: pk, ValidateKey: &pk.PublicKey})
	verifier := New(Config{AccessTTL: time.Minute, SignKey: otherPk, ValidateKey: &otherPk.PublicKey})

	tok, err := author.Generate("alice@mealdesk.test")
	so.Nil(err)

	_, _, _, err = verifier.Check(tok.Token)
	so.NotNil(err, "token signed with another key must not validate")
}
