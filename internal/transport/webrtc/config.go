package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3"
)

const (
	dataChannelLabel = "nearby"
	gatherTimeout    = 10 * time.Second
	highWaterMark    = 1 << 20
	lowWaterMark     = 256 << 10
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func stunConfig(servers []string) webrtc.Configuration {
	if servers == nil {
		servers = DefaultSTUNServers
	}

	iceServers := make([]webrtc.ICEServer, 0, 1)
	if len(servers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: servers})
	}
	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func dataChannelConfig() *webrtc.DataChannelInit {
	protocolName := "nearby-frames"
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &protocolName,
	}
}
