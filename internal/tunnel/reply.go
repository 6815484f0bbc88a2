package tunnel

// SOCKS5 reply codes (spec.md §6).
const (
	replySuccess         byte = 0x00
	replyNotAllowed      byte = 0x02
	replyHostUnreachable byte = 0x04
	replyConnRefused     byte = 0x05
)

// socksErrorReply builds the fixed-form `05 REP 00 01 00 00 00 00 00 00`
// reply spec.md §6 uses for every non-success case.
func socksErrorReply(code byte) []byte {
	return []byte{0x05, code, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
}

// socksSuccessReply builds `05 00 00` followed by the initial address
// package, echoed verbatim (spec.md §4.2 "SOCKS success reply").
func socksSuccessReply(initialPackage []byte) []byte {
	reply := make([]byte, 0, 3+len(initialPackage))
	reply = append(reply, 0x05, replySuccess, 0x00)
	reply = append(reply, initialPackage...)
	return reply
}

// buildUDPAssocReply synthesizes the UDP-ASSOC reply from the
// configured local UDP bind (spec.md §4.2 "UDP ASSOCIATE").
func buildUDPAssocReply(udpHost string, udpPort int) ([]byte, error) {
	addrType := addrTypeFor(udpHost)
	addr, err := encodeAddr(addrType, udpHost, uint16(udpPort))
	if err != nil {
		return nil, err
	}
	reply := make([]byte, 0, 3+len(addr))
	reply = append(reply, 0x05, replySuccess, 0x00)
	reply = append(reply, addr...)
	return reply, nil
}
