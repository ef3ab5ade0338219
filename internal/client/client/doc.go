// Package client talks to the relay: it keeps the user keypair, seals
// outgoing content for the server and opens everything the server seals
// for this user.
package client
