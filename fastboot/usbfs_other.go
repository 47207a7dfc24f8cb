//go:build !linux

package fastboot

// OpenLinuxTransport is unavailable outside Linux; callers on other
// platforms must supply their own BulkEndpoint implementation (the package
// tests use in-memory fake endpoints).
func OpenLinuxTransport(devPath string, interfaceNum int, out, in EndpointDescriptor) (Transport, error) {
	return Transport{}, ErrTransportUnsupported
}
