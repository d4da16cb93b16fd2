// Package dhcp4conf loads and validates the server's JSON configuration,
// performs SHA-256 config-change detection against a hash file, and
// watches the configuration file for further writes.
package dhcp4conf

import (
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/validate"
)

// ServerSettings is the `server` object of the configuration file.
type ServerSettings struct {
	SubnetMask     string `json:"subnet_mask"`
	DefaultGateway string `json:"default_gateway"`
	DNSServer      string `json:"dns_server"`
	DomainName     string `json:"domain_name"`
	IPAddress      string `json:"ip_address"`
	LogFile        string `json:"log_file"`
	LeaseTime      uint32 `json:"lease_time"`
	RenewalTime    uint32 `json:"renewal_time"`
}

// IPPoolSettings is the `ip_pool` object of the configuration file.
type IPPoolSettings struct {
	RangeStart string `json:"range_start"`
	RangeEnd   string `json:"range_end"`
}

// ExtendedOptions is the `options_extended` bank of defaults consulted when
// answering a DHCPINFORM's Parameter Request List.  Field names and types
// mirror the options the source server supports.
type ExtendedOptions struct {
	SubnetMask                string   `json:"subnet_mask"`
	DomainName                string   `json:"domain_name"`
	SwapServer                string   `json:"swap_server"`
	RootPath                  string   `json:"root_path"`
	ExtensionsPath            string   `json:"extensions_path"`
	MeritDumpFile             string   `json:"merit_dump_file"`
	BroadcastAddress          string   `json:"broadcast_address"`
	Router                    []string `json:"router"`
	TimeServer                []string `json:"time_server"`
	NameServer                []string `json:"name_server"`
	DomainNameServer          []string `json:"domain_name_server"`
	LogServer                 []string `json:"log_server"`
	CookieServer              []string `json:"cookie_server"`
	LprServer                 []string `json:"lpr_server"`
	ImpressServer             []string `json:"impress_server"`
	ResourceLocationServer    []string `json:"resource_location_server"`
	NetworkTimeProtocolServer []string `json:"network_time_protocol_servers"`
	TimeOffset                uint32   `json:"time_offset"`
	BootFileSize              uint16   `json:"boot_file_size"`
}

// Config is the full, validated server configuration loaded from
// app/server-config.json.
type Config struct {
	Server        ServerSettings  `json:"server"`
	IPPool        IPPoolSettings  `json:"ip_pool"`
	OptionsExt    ExtendedOptions `json:"options_extended"`
	RestrictedIPs []string        `json:"restricted_ips"`
	MetricsAddr   string          `json:"metrics_addr"`
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("server.ip_address", c.Server.IPAddress),
		validate.NotEmpty("server.subnet_mask", c.Server.SubnetMask),
		validate.NotEmpty("server.default_gateway", c.Server.DefaultGateway),
		validate.NotEmpty("server.dns_server", c.Server.DNSServer),
		validate.NotEmpty("ip_pool.range_start", c.IPPool.RangeStart),
		validate.NotEmpty("ip_pool.range_end", c.IPPool.RangeEnd),
	}

	for _, name := range []string{
		c.Server.IPAddress, c.Server.SubnetMask, c.Server.DefaultGateway, c.Server.DNSServer,
	} {
		if name == "" {
			continue
		}

		if net.ParseIP(name).To4() == nil {
			errs = append(errs, errors.Error("not a valid IPv4 address: "+name))
		}
	}

	start, errStart := netip.ParseAddr(c.IPPool.RangeStart)
	end, errEnd := netip.ParseAddr(c.IPPool.RangeEnd)
	if errStart != nil {
		errs = append(errs, errors.Annotate(errStart, "ip_pool.range_start: %w"))
	}
	if errEnd != nil {
		errs = append(errs, errors.Annotate(errEnd, "ip_pool.range_end: %w"))
	}
	if errStart == nil && errEnd == nil && start.Compare(end) > 0 {
		errs = append(errs, errors.Error("ip_pool.range_start must not be after range_end"))
	}

	if c.Server.DomainName != "" {
		err = netutil.ValidateDomainName(c.Server.DomainName)
		if err != nil {
			errs = append(errs, errors.Annotate(err, "server.domain_name: %w"))
		}
	}

	return errors.Join(errs...)
}

// ServerIP returns the parsed server identity address.
func (c *Config) ServerIP() (ip net.IP) {
	return net.ParseIP(c.Server.IPAddress).To4()
}

// PoolRange returns the parsed, inclusive pool range.
func (c *Config) PoolRange() (start, end netip.Addr) {
	start, _ = netip.ParseAddr(c.IPPool.RangeStart)
	end, _ = netip.ParseAddr(c.IPPool.RangeEnd)

	return start, end
}
