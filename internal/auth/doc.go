// Package auth provides authentication and authorisation for Doorman Core.
//
// It covers the human side of the system: dashboard operators who watch
// door activity and decide on visitors. Device authentication (ESP32 locks
// and cameras presenting provisioned tokens) lives in the device package;
// this package supplies the token hashing it uses.
//
// The model is deliberately small:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT access tokens (HS256, short-lived, validated by signature only)
//   - Opaque refresh tokens stored hashed, with rotation on use
//   - Three static roles: viewer < operator < admin
//
// Viewers see device status and visitor history. Operators additionally
// approve or deny visitors and send door commands. Admins manage devices
// and accounts.
package auth
