package auth

import "fmt"

// ProxyProtocolFamily identifies the address family reported in a PROXY
// protocol v1 header (§4.2, §6). Only the ASCII v1 line is supported;
// binary v2 headers are explicitly out of scope.
type ProxyProtocolFamily string

const (
	ProxyTCP4    ProxyProtocolFamily = "TCP4"
	ProxyTCP6    ProxyProtocolFamily = "TCP6"
	ProxyUnknown ProxyProtocolFamily = "UNKNOWN"
)

// BuildProxyProtocolHeader renders the ASCII PROXY protocol v1 line that
// must be written before any MySQL bytes when the backend is configured
// to expect it:
//
//	PROXY {TCP4|TCP6|UNKNOWN} <peer_ip> <local_ip> <peer_port> <local_port>\r\n
func BuildProxyProtocolHeader(family ProxyProtocolFamily, peerIP, localIP string, peerPort, localPort int) []byte {
	if family == ProxyUnknown {
		return []byte("PROXY UNKNOWN\r\n")
	}
	return []byte(fmt.Sprintf("PROXY %s %s %s %d %d\r\n", family, peerIP, localIP, peerPort, localPort))
}
