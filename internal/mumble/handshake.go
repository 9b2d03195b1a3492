package mumble

import (
	"runtime"

	"github.com/glizzus/delay-relay/internal/mumbleproto"
)

// Values announced during the handshake. The CELT versions are the 0.7.0 and
// 0.11.0 bitstream ids murmur expects.
const (
	ProtocolVersion uint32 = 1<<16 | 2<<8 | 5
	ReleaseName            = "1.2.5"

	celtAlphaVersion int32 = -2147483637
	celtBetaVersion  int32 = -2147483632
)

// handshake returns the three messages a client sends as soon as the
// transport is up, in the order they must be written.
func handshake(s Settings) []mumbleproto.Message {
	auth := &mumbleproto.Authenticate{
		Username:     mumbleproto.String(s.Nickname),
		CELTVersions: []int32{celtAlphaVersion, celtBetaVersion},
		Opus:         mumbleproto.Bool(true),
	}
	if s.Password != "" {
		auth.Password = mumbleproto.String(s.Password)
	}

	return []mumbleproto.Message{
		&mumbleproto.Version{
			Version:   mumbleproto.Uint32(ProtocolVersion),
			Release:   mumbleproto.String(ReleaseName),
			OS:        mumbleproto.String(runtime.GOOS),
			OSVersion: mumbleproto.String(runtime.GOARCH),
		},
		auth,
		&mumbleproto.CodecVersion{
			Alpha:       mumbleproto.Int32(celtAlphaVersion),
			Beta:        mumbleproto.Int32(0),
			PreferAlpha: mumbleproto.Bool(true),
		},
	}
}

// keepalive builds a ping carrying the counter, the timestamp in
// microseconds and the current round trip estimate. The other statistics are
// zero.
func keepalive(count uint32, timestamp uint64, rttMillis float32) *mumbleproto.Ping {
	zero := mumbleproto.Uint32(0)
	zeroF := mumbleproto.Float32(0)
	return &mumbleproto.Ping{
		Timestamp:  mumbleproto.Uint64(timestamp),
		Good:       zero,
		Late:       zero,
		Lost:       zero,
		Resync:     zero,
		UDPPackets: zero,
		TCPPackets: mumbleproto.Uint32(count),
		UDPPingAvg: zeroF,
		UDPPingVar: zeroF,
		TCPPingAvg: mumbleproto.Float32(rttMillis),
		TCPPingVar: zeroF,
	}
}
