package main

import "testing"

func TestClickRequest(t *testing.T) {
	req, err := clickRequest("alice", []string{"6", "4"})
	if err != nil || req.Player != "alice" || req.Row != 6 || req.Col != 4 {
		t.Fatalf("clickRequest = %+v, %v", req, err)
	}
	for _, bad := range [][]string{nil, {"6"}, {"x", "4"}, {"6", "y"}} {
		if _, err := clickRequest("alice", bad); err == nil {
			t.Fatalf("clickRequest(%v) accepted", bad)
		}
	}
}
