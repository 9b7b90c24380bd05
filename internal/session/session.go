// Package session mirrors live connection state into Redis: session creation
// on upgrade, identity promotion on authentication, expiration, and deletion
// on disconnect. The server process remains the owner of every connection;
// these records only give external tooling visibility.
package session
