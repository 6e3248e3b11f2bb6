// Package auth provides bearer token authorisation for the bridge HTTP API.
//
// Tokens are HS256 JWTs signed with the configured api.auth.jwt_secret and
// carry a Role. Each role maps to a fixed set of permissions:
//   - viewer: read outlets, state and telemetry
//   - operator: viewer plus switching outlets
//   - admin: operator plus triggering discovery
//
// Tokens are stateless: there is no user database and no refresh flow.
// Operators mint them with `pdubridge token` and rotate the secret to
// revoke every outstanding token at once.
package auth
