// Package discovery advertises the relay on the local network over
// mDNS and finds relays advertised by others.
//
// The relay registers the service type "_simbridge._tcp" with a TXT
// record carrying the server version, so companion apps on the same
// LAN can locate it without the user typing an address. Discovery is
// optional; the relay works identically without it.
package discovery
