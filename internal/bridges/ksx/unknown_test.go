package ksx

import "testing"

func TestUnknownAdapterTracksPresenceOnly(t *testing.T) {
	a := newUnknownAdapter()
	tests := []struct {
		name  string
		parse func() ParseResult
		want  ParseResult
	}{
		{"status response", func() ParseResult { return a.StatusRsp(nil, Packet{}, nil) }, ResultStateUpdated},
		{"characteristic response", func() ParseResult { return a.CharacteristicRsp(nil, Packet{}, nil) }, ResultPeerDetected},
		{"status request", func() ParseResult { return a.StatusReq(nil, Packet{}, nil) }, ResultNone},
		{"characteristic request", func() ParseResult { return a.CharacteristicReq(nil, Packet{}, nil) }, ResultNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.parse(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
