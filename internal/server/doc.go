// Package server is the HTTP host: liveness, the manual poll trigger and the
// telegram webhook.
package server
