// Package ceremony orchestrates WebAuthn registration and authentication.
//
// A ceremony spans two calls: an options-issuance call that mints a
// single-use challenge, and a later verify call that atomically claims the
// challenge, delegates cryptographic checks to the verification engine, and
// persists the outcome. Anti-replay and counter monotonicity are enforced
// here, not in storage or in the engine.
package ceremony
