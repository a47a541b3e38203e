package session

import (
	"fmt"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// Credentials identify the account logging in: an interactive password or
// a reusable token from a previous Welcome.
type Credentials struct {
	Username string
	Password string
	Token    []byte
}

// WithPassword builds password credentials.
func WithPassword(username, password string) Credentials {
	return Credentials{Username: username, Password: password}
}

// WithToken builds reusable-token credentials.
func WithToken(username string, token []byte) Credentials {
	return Credentials{Username: username, Token: token}
}

// authenticate runs the login exchange over the freshly encrypted
// channel. It must complete before the session is considered usable.
// A service rejection surfaces as ErrAuthRejected, distinct from any
// transport-level handshake failure.
func authenticate(cc *cipherConn, creds Credentials, cfg *Config) (*protocol.Welcome, error) {
	login := &protocol.LoginRequest{
		Username: creds.Username,
		DeviceID: cfg.DeviceID,
	}
	if len(creds.Token) > 0 {
		login.AuthType = protocol.AuthTypeToken
		login.AuthData = creds.Token
	} else {
		login.AuthType = protocol.AuthTypePassword
		login.AuthData = []byte(creds.Password)
	}

	if err := cc.WriteFrame(protocol.CmdLogin, login.Encode()); err != nil {
		return nil, fmt.Errorf("send login: %w", err)
	}

	frame, err := cc.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read login reply: %w", err)
	}

	switch frame.Cmd {
	case protocol.CmdWelcome:
		welcome, err := protocol.DecodeWelcome(frame.Payload)
		if err != nil {
			return nil, err
		}
		return welcome, nil

	case protocol.CmdAuthFailure:
		code, err := protocol.DecodeAuthFailure(frame.Payload)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: code %d", ErrAuthRejected, code)

	default:
		return nil, fmt.Errorf("unexpected login reply: %v", frame.Cmd)
	}
}
