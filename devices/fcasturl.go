package devices

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidURL = errors.New("devices: invalid fcast url")

// fcastServiceTCP is the service type of the plain TCP endpoint.
const fcastServiceTCP = 0

type fcastService struct {
	Port uint16 `json:"port"`
	Type int32  `json:"type"`
}

// fcastNetworkConfig is the JSON document carried in an fcast:// URL.
type fcastNetworkConfig struct {
	Name      string         `json:"name"`
	Addresses []string       `json:"addresses"`
	Services  []fcastService `json:"services"`
}

// ParseFCastURL decodes a receiver announcement of the form
// fcast://r/<base64url JSON>, as shown in receiver QR codes. Padding in the
// payload is optional.
func ParseFCastURL(raw string) (DeviceInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "fcast" {
		return DeviceInfo{}, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host != "r" {
		return DeviceInfo{}, fmt.Errorf("%w: type %q", ErrInvalidURL, u.Host)
	}

	payload, _, _ := strings.Cut(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if payload == "" {
		return DeviceInfo{}, fmt.Errorf("%w: missing payload", ErrInvalidURL)
	}

	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	var cfg fcastNetworkConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	var port uint16
	found := false
	for _, s := range cfg.Services {
		if s.Type == fcastServiceTCP {
			port, found = s.Port, true
			break
		}
	}
	if !found {
		return DeviceInfo{}, fmt.Errorf("%w: no tcp service", ErrInvalidURL)
	}

	addrs := make([]netip.Addr, 0, len(cfg.Addresses))
	for _, a := range cfg.Addresses {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			return DeviceInfo{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		addrs = append(addrs, ip)
	}

	return DeviceInfo{Name: cfg.Name, Protocol: FCast, Addresses: addrs, Port: port}, nil
}

// FCastURL is the inverse of ParseFCastURL.
func (d DeviceInfo) FCastURL() string {
	cfg := fcastNetworkConfig{
		Name:      d.Name,
		Addresses: make([]string, 0, len(d.Addresses)),
		Services:  []fcastService{{Port: d.Port, Type: fcastServiceTCP}},
	}
	for _, a := range d.Addresses {
		cfg.Addresses = append(cfg.Addresses, a.String())
	}

	// Marshal cannot fail on this type.
	b, _ := json.Marshal(cfg)
	return "fcast://r/" + base64.URLEncoding.EncodeToString(b)
}
