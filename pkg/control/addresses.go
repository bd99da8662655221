// Package control holds the reserved addresses and constants of the rhizome
// control protocol. Clients and the server must agree on these literals exactly.
//
// Control messages travel on the same channel as data: they are ordinary
// (address, args) messages whose address is one of the reserved ones below.
//
//	/sys/subscribe    [clientPort, address]                       -> /sys/subscribed [address]
//	/sys/configure    [clientPort, "blobClient", blobPort?, tcp|udp?] -> /sys/configured [blobPort]
//	/sys/blob         [clientPort, targetAddress, filePath, params...] -> forwarded to the blob client
//	/sys/unsubscribe  [clientPort]                                -> /sys/unsubscribed []
//	any malformed request                                         -> /sys/error [message]
package control

const (
	// ConfigureAddress requests a blob pairing for a client port
	ConfigureAddress = "/sys/configure"
	// ConfiguredAddress acknowledges ConfigureAddress with the effective blob port
	ConfiguredAddress = "/sys/configured"
	// SubscribeAddress subscribes a client port to an address
	SubscribeAddress = "/sys/subscribe"
	// SubscribedAddress acknowledges SubscribeAddress with the subscribed address
	SubscribedAddress = "/sys/subscribed"
	// UnsubscribeAddress removes every subscription of a client port
	UnsubscribeAddress = "/sys/unsubscribe"
	// UnsubscribedAddress acknowledges UnsubscribeAddress
	UnsubscribedAddress = "/sys/unsubscribed"
	// SendBlobAddress asks a client's blob transport to send a file
	SendBlobAddress = "/sys/blob"
	// ErrorAddress carries a single human readable diagnostic string
	ErrorAddress = "/sys/error"
)

const (
	// BlobClientKeyword is the second argument of a configure request
	BlobClientKeyword = "blobClient"

	// DefaultBlobPort is used when a configure request omits the blob port
	DefaultBlobPort = 44444
)

// BlobTransport selects how blobs reach a paired blob client.
type BlobTransport string

const (
	BlobTransportTCP BlobTransport = "tcp"
	BlobTransportUDP BlobTransport = "udp"
)

// Valid reports whether t is a known transport.
func (t BlobTransport) Valid() bool {
	return t == BlobTransportTCP || t == BlobTransportUDP
}

var requests = map[string]bool{
	ConfigureAddress:   true,
	SubscribeAddress:   true,
	UnsubscribeAddress: true,
	SendBlobAddress:    true,
}

var replies = map[string]bool{
	ConfiguredAddress:   true,
	SubscribedAddress:   true,
	UnsubscribedAddress: true,
	ErrorAddress:        true,
}

// IsControl reports whether address is reserved by the control protocol.
func IsControl(address string) bool {
	return requests[address] || replies[address]
}

// IsRequest reports whether address is a control request the server acts on.
func IsRequest(address string) bool {
	return requests[address]
}

// IsReply reports whether address is only ever emitted by the server.
func IsReply(address string) bool {
	return replies[address]
}
