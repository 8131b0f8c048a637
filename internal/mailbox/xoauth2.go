package mailbox

import "fmt"

// xoauth2Client is a minimal sasl.Client implementing AUTHENTICATE XOAUTH2
// (https://developers.google.com/gmail/imap/xoauth2-protocol). go-sasl ships
// PLAIN/LOGIN/etc. but not XOAUTH2, so — like every XOAUTH2 IMAP client in
// this corpus — we hand-roll the one-shot mechanism rather than pull in a
// second SASL dependency for a single initial response.
type xoauth2Client struct {
	username    string
	accessToken string
}

func newXOAuth2Client(username, accessToken string) *xoauth2Client {
	return &xoauth2Client{username: username, accessToken: accessToken}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = fmt.Appendf(nil, "user=%s\x01auth=Bearer %s\x01\x01", c.username, c.accessToken)
	return "XOAUTH2", ir, nil
}

// Next handles the single optional error-JSON challenge a server may send
// before failing the AUTHENTICATE command; XOAUTH2 has no further round
// trip on success.
func (c *xoauth2Client) Next(challenge []byte) (response []byte, err error) {
	return nil, nil
}
