// Package tfa provides a two-factor authentication decision engine with
// role-based policy resolution, account-age grace periods, and trusted-device
// bypass tokens backed by Redis.
//
// The package decides, for a single login attempt, whether a second factor is
// required, whether a supplied one-time code or trust token satisfies that
// requirement, and whether the attempt may proceed. Primary-credential
// verification, HTTP transport, and cookie delivery remain the host
// application's responsibility: the host calls [Engine.Decide] from its login
// path and maps the returned [Verdict] onto its own success/failure response.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tfa is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator interfaces ([UserDirectory], [PolicyStore], [TrustStore],
// [SecondFactorProvider]), and value types. Token generation lives under
// internal/ and is never exported. Metric export (Prometheus, OTel) lives in
// metrics/export/ and reads [MetricsSnapshot] values.
//
// # What this package must NOT do
//
//   - Verify usernames or passwords; the engine only gates the second factor.
//   - Cache directory or policy lookups across Decide calls: role membership
//     and policy flags are read fresh for every attempt.
//   - Expose Redis clients, record encodings, or raw secrets in its public API.
package tfa
