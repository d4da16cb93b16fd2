package dhcp4conf

import (
	"encoding/binary"
	"net"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4opts"
)

// Option codes from the extended bank not already declared in dhcp4msg.
const (
	optTimeOffset                = 2
	optTimeServer                = 4
	optNameServer                = 5
	optLogServer                 = 7
	optCookieServer              = 8
	optLPRServer                 = 9
	optImpressServer             = 10
	optResourceLocationServer    = 11
	optBootFileSize              = 13
	optMeritDumpFile             = 14
	optSwapServer                = 16
	optRootPath                  = 17
	optExtensionsPath            = 18
	optBroadcastAddress          = 28
	optNetworkTimeProtocolServer = 42
)

// ip4ListBytes concatenates the 4-byte form of every address string in vs,
// skipping any that fail to parse.
func ip4ListBytes(vs []string) (b []byte) {
	for _, v := range vs {
		ip := net.ParseIP(v).To4()
		if ip == nil {
			continue
		}

		b = append(b, ip...)
	}

	return b
}

// OptionBank builds the [dhcp4opts.ExtendedOptions] bank used to answer
// DHCPINFORM Parameter Request Lists, from the configuration's
// options_extended section and the base server settings (so that a client
// requesting SubnetMask/Router/DNSServer/DomainName via INFORM's PRL gets
// an answer even though those are also emitted unconditionally by
// BuildBaseOptions for other reply types).
func (c *Config) OptionBank() (bank dhcp4opts.ExtendedOptions) {
	ext := c.OptionsExt

	bank = dhcp4opts.ExtendedOptions{}

	if ip := net.ParseIP(ext.SubnetMask).To4(); ip != nil {
		bank[dhcp4msg.OptSubnetMask] = ip
	} else if ip = c.ServerSubnetMask(); ip != nil {
		bank[dhcp4msg.OptSubnetMask] = ip
	}

	if len(ext.Router) > 0 {
		bank[dhcp4msg.OptRouter] = ip4ListBytes(ext.Router)
	} else if ip := c.ServerGateway(); ip != nil {
		bank[dhcp4msg.OptRouter] = ip
	}

	if len(ext.DomainNameServer) > 0 {
		bank[dhcp4msg.OptDNSServer] = ip4ListBytes(ext.DomainNameServer)
	} else if ip := c.ServerDNS(); ip != nil {
		bank[dhcp4msg.OptDNSServer] = ip
	}

	if ext.DomainName != "" {
		bank[dhcp4msg.OptDomainName] = []byte(ext.DomainName)
	} else {
		bank[dhcp4msg.OptDomainName] = []byte(c.Server.DomainName)
	}

	if ext.TimeOffset != 0 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ext.TimeOffset)
		bank[optTimeOffset] = b[:]
	}

	if len(ext.TimeServer) > 0 {
		bank[optTimeServer] = ip4ListBytes(ext.TimeServer)
	}

	if len(ext.NameServer) > 0 {
		bank[optNameServer] = ip4ListBytes(ext.NameServer)
	}

	if len(ext.LogServer) > 0 {
		bank[optLogServer] = ip4ListBytes(ext.LogServer)
	}

	if len(ext.CookieServer) > 0 {
		bank[optCookieServer] = ip4ListBytes(ext.CookieServer)
	}

	if len(ext.LprServer) > 0 {
		bank[optLPRServer] = ip4ListBytes(ext.LprServer)
	}

	if len(ext.ImpressServer) > 0 {
		bank[optImpressServer] = ip4ListBytes(ext.ImpressServer)
	}

	if len(ext.ResourceLocationServer) > 0 {
		bank[optResourceLocationServer] = ip4ListBytes(ext.ResourceLocationServer)
	}

	if ext.BootFileSize != 0 {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], ext.BootFileSize)
		bank[optBootFileSize] = b[:]
	}

	if ext.MeritDumpFile != "" {
		bank[optMeritDumpFile] = []byte(ext.MeritDumpFile)
	}

	if ext.SwapServer != "" {
		bank[optSwapServer] = []byte(ext.SwapServer)
	}

	if ext.RootPath != "" {
		bank[optRootPath] = []byte(ext.RootPath)
	}

	if ext.ExtensionsPath != "" {
		bank[optExtensionsPath] = []byte(ext.ExtensionsPath)
	}

	if ip := net.ParseIP(ext.BroadcastAddress).To4(); ip != nil {
		bank[optBroadcastAddress] = ip
	}

	if len(ext.NetworkTimeProtocolServer) > 0 {
		bank[optNetworkTimeProtocolServer] = ip4ListBytes(ext.NetworkTimeProtocolServer)
	}

	return bank
}

// ServerSubnetMask returns the 4-byte form of server.subnet_mask, or nil.
func (c *Config) ServerSubnetMask() (ip net.IP) {
	return net.ParseIP(c.Server.SubnetMask).To4()
}

// ServerGateway returns the 4-byte form of server.default_gateway, or nil.
func (c *Config) ServerGateway() (ip net.IP) {
	return net.ParseIP(c.Server.DefaultGateway).To4()
}

// ServerDNS returns the 4-byte form of server.dns_server, or nil.
func (c *Config) ServerDNS() (ip net.IP) {
	return net.ParseIP(c.Server.DNSServer).To4()
}

// ReplyConfig adapts c into the shape [dhcp4opts.BuildBaseOptions] expects.
func (c *Config) ReplyConfig() (rc *dhcp4opts.ReplyConfig) {
	rc = &dhcp4opts.ReplyConfig{
		ExtendedOptions: c.OptionBank(),
		DomainName:      c.Server.DomainName,
		LeaseTimeSecs:   c.Server.LeaseTime,
		RenewalTimeSecs: c.Server.RenewalTime,
	}

	copy(rc.ServerIP[:], c.ServerIP())
	copy(rc.SubnetMask[:], c.ServerSubnetMask())
	copy(rc.Router[:], c.ServerGateway())
	copy(rc.DNSServer[:], c.ServerDNS())

	return rc
}
