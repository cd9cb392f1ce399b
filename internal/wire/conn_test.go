package wire

import "testing"

func TestParseDisplay(t *testing.T) {
	cases := []struct {
		display    string
		wantScreen int
		wantSock   string
		wantErr    bool
	}{
		{":0", 0, "/tmp/.X11-unix/X0", false},
		{":0.1", 1, "/tmp/.X11-unix/X0", false},
		{"unix:1.2", 2, "/tmp/.X11-unix/X1", false},
		{":1", 0, "/tmp/.X11-unix/X1", false},
		{"remotehost:0", 0, "", true},
		{"no-colon", 0, "", true},
		{":0.notanumber", 0, "", true},
	}
	for _, c := range cases {
		screen, sock, err := parseDisplay(c.display)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseDisplay(%q) = nil error, want error", c.display)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDisplay(%q): %v", c.display, err)
			continue
		}
		if screen != c.wantScreen || sock != c.wantSock {
			t.Errorf("parseDisplay(%q) = (%d, %q), want (%d, %q)", c.display, screen, sock, c.wantScreen, c.wantSock)
		}
	}
}

func TestNextPad4(t *testing.T) {
	cases := []struct{ n, want int }{
		{0, 0}, {1, 4}, {2, 4}, {3, 4}, {4, 4}, {5, 8}, {8, 8}, {9, 12},
	}
	for _, c := range cases {
		if got := nextPad4(c.n); got != c.want {
			t.Errorf("nextPad4(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
