package session

import (
	"log"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// route classifies one inbound frame by command and hands it to exactly
// one handler. Unknown commands are logged and dropped: the protocol
// grows new identifiers faster than clients learn them, and that must
// never be fatal.
func (s *Session) route(frame *protocol.Frame) {
	switch frame.Cmd {
	case protocol.CmdPing:
		if err := s.sendFrame(protocol.CmdPong, nil); err != nil {
			log.Printf("Keep-alive reply failed: %v", err)
		}

	case protocol.CmdPong, protocol.CmdPongAck:
		// liveness already refreshed by the read itself

	case protocol.CmdCountryCode:
		s.mu.Lock()
		s.countryCode = string(frame.Payload)
		s.mu.Unlock()
		log.Printf("Service country code: %s", frame.Payload)

	case protocol.CmdMercuryReq, protocol.CmdMercurySub, protocol.CmdMercuryUnsub, protocol.CmdMercuryEvent:
		s.mercury.handleFrame(frame.Cmd, frame.Payload)

	case protocol.CmdStreamChunkRes:
		s.channels.handleData(frame.Payload)

	case protocol.CmdChannelError:
		s.channels.handleError(frame.Payload)

	case protocol.CmdKeyResponse:
		s.keys.handleResponse(frame.Payload)

	case protocol.CmdKeyError:
		s.keys.handleError(frame.Payload)

	case protocol.CmdLogin, protocol.CmdWelcome, protocol.CmdAuthFailure:
		// authentication is complete before the receive loop starts
		log.Printf("Unexpected %v frame after login, dropping", frame.Cmd)

	default:
		log.Printf("Unknown command %v (%d bytes), dropping", frame.Cmd, len(frame.Payload))
	}
}
