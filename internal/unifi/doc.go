// Package unifi is a client for the parts of the UniFi Network controller
// API that manage power-distribution outlets.
//
// It covers three concerns:
//   - Session: API-key or username/password authentication. Logins are
//     coalesced so concurrent requests during an auth gap cause one login,
//     and a rejected request triggers exactly one re-login.
//   - Client: the HTTP transport with optional TLS verification, a cookie
//     jar and a per-request timeout.
//   - Repository: device and outlet reads, the metering capability gate,
//     and the outlet power-cycle command.
//
// Controllers differ in where they serve the Network API (behind the
// UniFi OS /proxy/network prefix or at the root), so logins and device
// reads try a fixed list of endpoints in order.
//
// Usage:
//
//	client, err := unifi.NewClient(unifi.Options{
//	    BaseURL:     "https://192.168.1.1",
//	    Credentials: unifi.Credentials{APIKey: key},
//	})
//	if err != nil {
//	    return err
//	}
//	repo := unifi.NewRepository(client)
//	outlets, err := repo.ListOutlets(ctx, "aa:bb:cc:dd:ee:01")
package unifi
