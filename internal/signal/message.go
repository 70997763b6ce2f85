// Package signal is a websocket rendezvous used to discover peers and to
// relay WebRTC session descriptions between them.
package signal

const (
	TypeJoined = "joined"
	TypeLeft   = "left"
	TypePeers  = "peers"
	TypeSignal = "signal"
)

type Message struct {
	Type    string   `json:"type"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Peers   []string `json:"peers,omitempty"`
	Payload []byte   `json:"payload,omitempty"`
}
