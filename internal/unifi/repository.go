package unifi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Repository reads and controls PDU outlets through a Client.
//
// Thread Safety:
//   - Safe for concurrent use; it holds no mutable state of its own.
type Repository struct {
	client *Client
	logger Logger
}

// NewRepository wraps client.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client, logger: client.logger}
}

func (r *Repository) deviceInfoPaths(mac string) []string {
	site := url.PathEscape(r.client.site)
	mac = url.PathEscape(strings.ToLower(mac))
	return []string{
		"/proxy/network/api/s/" + site + "/stat/device/" + mac,
		"/api/s/" + site + "/stat/device/" + mac,
	}
}

func (r *Repository) commandPath() string {
	return "/proxy/network/api/s/" + url.PathEscape(r.client.site) + "/cmd/devmgr"
}

// FetchDevice returns the controller's record for mac.
//
// Each device-info endpoint is tried in order; a non-2xx status, an rc
// other than "ok" or a malformed body moves on to the next. When all of
// them fail an empty Device and a nil error are returned so one
// unreachable PDU cannot abort a multi-device fetch. Authentication
// failures are returned as errors.
func (r *Repository) FetchDevice(ctx context.Context, mac string) (Device, error) {
	for _, path := range r.deviceInfoPaths(mac) {
		resp, err := r.client.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			if errors.Is(err, ErrAuthentication) || ctx.Err() != nil {
				return Device{}, err
			}
			r.logger.Warn("device info request failed", "mac", mac, "path", path, "error", err)
			continue
		}
		if !resp.ok() {
			r.logger.Debug("device info endpoint unavailable", "mac", mac, "path", path, "status", resp.status)
			continue
		}

		env, err := decodeEnvelope(resp.body)
		if err != nil {
			r.logger.Warn("device info response unusable", "mac", mac, "path", path, "error", err)
			continue
		}
		if !env.Meta.OK() {
			r.logger.Debug("device info rejected", "mac", mac, "path", path, "rc", env.Meta.RC, "msg", env.Meta.Msg)
			continue
		}
		if len(env.Data) == 0 {
			return Device{}, nil
		}

		var dev Device
		if err := json.Unmarshal(env.Data[0], &dev); err != nil {
			r.logger.Warn("device record malformed", "mac", mac, "path", path, "error", err)
			continue
		}
		return dev, nil
	}

	r.logger.Warn("all device info endpoints failed", "mac", mac)
	return Device{}, nil
}

// ListOutlets returns the outlets of mac sorted by index. An unreachable
// device yields an empty list.
func (r *Repository) ListOutlets(ctx context.Context, mac string) ([]Outlet, error) {
	dev, err := r.FetchDevice(ctx, mac)
	if err != nil {
		return nil, err
	}
	return SortedOutlets(dev), nil
}

// GetOutlet returns the outlet with the given index.
//
// Returns:
//   - error: ErrDeviceUnreachable, ErrOutletNotFound, or an auth/transport error
func (r *Repository) GetOutlet(ctx context.Context, mac string, index int) (Outlet, error) {
	dev, err := r.FetchDevice(ctx, mac)
	if err != nil {
		return Outlet{}, err
	}
	if dev.IsEmpty() {
		return Outlet{}, fmt.Errorf("%w: %s", ErrDeviceUnreachable, mac)
	}
	for _, o := range SortedOutlets(dev) {
		if o.Index == index {
			return o, nil
		}
	}
	return Outlet{}, fmt.Errorf("%w: %s outlet %d", ErrOutletNotFound, mac, index)
}

// GetOutletTelemetry returns the current reading of a metered outlet.
// ok is false, with a nil error, when the outlet is not metered.
func (r *Repository) GetOutletTelemetry(ctx context.Context, mac string, index int) (t Telemetry, ok bool, err error) {
	o, err := r.GetOutlet(ctx, mac, index)
	if err != nil {
		return Telemetry{}, false, err
	}
	if !SupportsMetering(o) {
		return Telemetry{}, false, nil
	}
	return TelemetryOf(o), true, nil
}

type outletRef struct {
	Index int `json:"index"`
}

type outletCommand struct {
	MAC         string      `json:"mac"`
	OutletTable []outletRef `json:"outlet_table"`
	Cmd         string      `json:"cmd"`
}

// PowerCycle asks the controller to cycle one outlet. The relay state is
// not reported synchronously; re-read the outlet afterwards.
func (r *Repository) PowerCycle(ctx context.Context, mac string, index int) error {
	cmd := outletCommand{
		MAC:         strings.ToLower(mac),
		OutletTable: []outletRef{{Index: index}},
		Cmd:         "outlet-ctl",
	}

	resp, err := r.client.do(ctx, http.MethodPost, r.commandPath(), cmd)
	if err != nil {
		return fmt.Errorf("power cycle %s outlet %d: %w", mac, index, err)
	}
	if !resp.ok() {
		return fmt.Errorf("%w: power cycle %s outlet %d: status %d", ErrRequestFailed, mac, index, resp.status)
	}

	// Some firmware replies 200 with an error envelope.
	if env, err := decodeEnvelope(resp.body); err == nil && !env.Meta.OK() {
		return fmt.Errorf("%w: power cycle %s outlet %d: rc=%s %s", ErrRequestFailed, mac, index, env.Meta.RC, env.Meta.Msg)
	}

	r.logger.Info("outlet power cycle requested", "mac", mac, "outlet", index)
	return nil
}
