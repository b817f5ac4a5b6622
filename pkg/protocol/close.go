package protocol

// Handshake rejection. The server upgrades, then closes with this code and reason.
const (
	CloseUnauthorized  = 4401
	UnauthorizedReason = "Unauthorized"
)

var resyncRequiredFrame = mustEncode(Envelope{Kind: KindResyncRequired})

// ResyncRequiredFrame returns the encoded resync-required directive.
func ResyncRequiredFrame() []byte {
	return resyncRequiredFrame
}

func mustEncode(e Envelope) []byte {
	data, err := e.Encode()
	if err != nil {
		panic(err)
	}
	return data
}
