// Package http exposes the request pipeline over a gin API.
//
// /fetch starts an engine request on the IO sequence and streams its body
// back as reads complete; scripted and mounted schemes are reachable the
// same way as http. The remaining handlers report registry, emulation and
// request state by hopping onto the sequence that owns it.
package http
