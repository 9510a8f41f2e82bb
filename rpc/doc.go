// Package rpc implements the client side of the daemon's management
// interface: a gRPC connection over a local unix socket using a JSON codec.
//
// The Transport owns a single connection. Unary calls fail fast with a
// *TransportError when the daemon is not connected, and every in-flight
// call or stream is cancelled when the connection is marked lost:
//
//	t := rpc.NewTransport("/var/run/vpnd.sock", rpc.Options{})
//	if _, err := t.Connect(ctx); err != nil {
//	    // back off and retry
//	}
//	var resp rpc.TunnelStateResponse
//	err := t.Call(ctx, rpc.MethodGetTunnelState, &rpc.Empty{}, &resp)
//
// The message types in this package are the wire format. Conversion into
// the client's own state model happens in package vpn.
package rpc
