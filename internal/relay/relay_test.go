package relay

import "testing"

func TestParseNormalizesCaseSchemeAndPath(t *testing.T) {
	got, err := Parse(" WsS://Relay.Example.COM:443/foo//bar/ ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.URL != "wss://relay.example.com/foo/bar" {
		t.Fatalf("url = %q", got.URL)
	}
	if got.Network != Clearnet {
		t.Fatalf("network = %q", got.Network)
	}
	if got.Scheme != "wss" {
		t.Fatalf("scheme = %q", got.Scheme)
	}
	if got.Port != nil {
		t.Fatalf("port = %v, want nil", *got.Port)
	}
}

func TestParseRejectsPrivateAddress(t *testing.T) {
	if _, err := Parse("wss://10.0.0.1"); err == nil {
		t.Fatal("expected error for private address")
	}
}

func TestParseForcesOverlayScheme(t *testing.T) {
	got, err := Parse("wss://abcd.onion/")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.URL != "ws://abcd.onion" {
		t.Fatalf("url = %q", got.URL)
	}
	if got.Scheme != "ws" {
		t.Fatalf("scheme = %q", got.Scheme)
	}
	if got.Network != Tor {
		t.Fatalf("network = %q", got.Network)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	inputs := []string{
		" WsS://Relay.Example.COM:443/foo//bar/ ",
		"wss://abcd.onion/",
		"ws://xyz.i2p/a/b/c",
		"wss://relay.damus.io",
	}
	for _, in := range inputs {
		first, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		second, err := Parse(first.URL)
		if err != nil {
			t.Fatalf("Parse(%q) (second pass): %v", first.URL, err)
		}
		if first.URL != second.URL || first.Network != second.Network {
			t.Fatalf("not idempotent: %+v != %+v", first, second)
		}
	}
}

func TestParseRejectsQueryAndFragment(t *testing.T) {
	if _, err := Parse("wss://relay.example.com/?x=1"); err == nil {
		t.Fatal("expected error for query string")
	}
	if _, err := Parse("wss://relay.example.com/#frag"); err == nil {
		t.Fatal("expected error for fragment")
	}
}

func TestParseRejectsBadScheme(t *testing.T) {
	if _, err := Parse("http://relay.example.com"); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func TestParseRejectsLocalhost(t *testing.T) {
	if _, err := Parse("ws://localhost:7777"); err == nil {
		t.Fatal("expected error for localhost")
	}
}

func TestParseElidesDefaultWSPort(t *testing.T) {
	got, err := Parse("ws://abcd.onion:80/")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Port != nil {
		t.Fatalf("port = %v, want nil (default ws port elided)", *got.Port)
	}
}

func TestParseRejectsNullByte(t *testing.T) {
	if _, err := Parse("wss://relay.example.com/\x00path"); err == nil {
		t.Fatal("expected error for embedded null byte")
	}
}

func TestParseRejectsUnclassifiableHost(t *testing.T) {
	if _, err := Parse("wss://_bad_host_"); err == nil {
		t.Fatal("expected error for invalid DNS label")
	}
}
