package ksx

import "io"

// LinkHandler drives a Network from a transport connection. Its methods may
// be called from any goroutine; each event is posted to the network's loop.
type LinkHandler struct {
	net *Network
}

// LinkHandler returns a handler bound to n.
func (n *Network) LinkHandler() *LinkHandler { return &LinkHandler{net: n} }

// LinkUp attaches the network to w.
func (h *LinkHandler) LinkUp(w io.Writer) {
	h.net.Post(func() { h.net.Attach(w) })
}

// LinkData feeds received bytes. p is copied before the call returns.
func (h *LinkHandler) LinkData(p []byte) {
	h.net.Write(p) //nolint:errcheck // Write never fails
}

// LinkDown detaches the network.
func (h *LinkHandler) LinkDown(err error) {
	h.net.Post(func() {
		h.net.logInfo("ksx line lost", "error", err)
		h.net.Detach()
	})
}
