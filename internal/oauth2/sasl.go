package oauth2

import (
	"github.com/emersion/go-sasl"
)

// NewXOAUTH2Client returns a SASL client for the XOAUTH2 mechanism
// used by Gmail and Outlook IMAP.
func NewXOAUTH2Client(username, token string) sasl.Client {
	return &xoauth2Client{
		username: username,
		token:    token,
	}
}

type xoauth2Client struct {
	username string
	token    string
}

func (a *xoauth2Client) Start() (mech string, ir []byte, err error) {
	mech = "XOAUTH2"
	// Wire format: "user=<username>\x01auth=Bearer <token>\x01\x01"
	ir = []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01")
	return
}

func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// XOAUTH2 is a single round trip.
	return nil, sasl.ErrUnexpectedServerChallenge
}
