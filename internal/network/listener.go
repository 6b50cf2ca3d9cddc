package network

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

// Listen binds the battle UDP socket. SO_REUSEADDR is set so a restarted
// peer can rebind its port straight away.
func Listen(ctx context.Context, address string) (net.PacketConn, error) {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket on %s: %w", address, err)
	}

	log.Info().Str("address", pc.LocalAddr().String()).Msg("UDP socket bound")
	return pc, nil
}

// ResolvePeer resolves a host:port string into a UDP address.
func ResolvePeer(address string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve peer %s: %w", address, err)
	}
	return addr, nil
}
