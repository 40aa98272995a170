package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/pds/homelab/internal/api/response"
)

// handshakeFreshFor is how recent a peer handshake must be to count as
// connected. WireGuard rekeys at least every two minutes on active links.
const handshakeFreshFor = 3 * time.Minute

// deviceClient is the wgctrl surface the handler needs.
type deviceClient interface {
	Device(name string) (*wgtypes.Device, error)
	Close() error
}

// VPN reports read-only WireGuard status for the panel's VPN page.
type VPN struct {
	device string
	logger zerolog.Logger
	open   func() (deviceClient, error)
}

func NewVPN(device string, logger zerolog.Logger) *VPN {
	return &VPN{
		device: device,
		logger: logger.With().Str("component", "vpn").Logger(),
		open: func() (deviceClient, error) {
			return wgctrl.New()
		},
	}
}

type vpnPeerView struct {
	PublicKey     string     `json:"public_key"`
	Endpoint      string     `json:"endpoint,omitempty"`
	LastHandshake *time.Time `json:"last_handshake,omitempty"`
	Connected     bool       `json:"connected"`
	ReceiveBytes  int64      `json:"receive_bytes"`
	TransmitBytes int64      `json:"transmit_bytes"`
}

// Status returns the WireGuard device and its peers with handshake ages.
func (h *VPN) Status(w http.ResponseWriter, r *http.Request) {
	client, err := h.open()
	if err != nil {
		h.logger.Error().Err(err).Msg("wireguard control open failed")
		response.WriteError(w, http.StatusServiceUnavailable, "wireguard is not available")
		return
	}
	defer client.Close()

	dev, err := client.Device(h.device)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, "wireguard device not found")
		return
	}

	peers := make([]vpnPeerView, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		view := vpnPeerView{
			PublicKey:     p.PublicKey.String(),
			ReceiveBytes:  p.ReceiveBytes,
			TransmitBytes: p.TransmitBytes,
		}
		if p.Endpoint != nil {
			view.Endpoint = p.Endpoint.String()
		}
		if !p.LastHandshakeTime.IsZero() {
			hs := p.LastHandshakeTime
			view.LastHandshake = &hs
			view.Connected = time.Since(hs) < handshakeFreshFor
		}
		peers = append(peers, view)
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"device":      dev.Name,
		"listen_port": dev.ListenPort,
		"public_key":  dev.PublicKey.String(),
		"peers":       peers,
	})
}
