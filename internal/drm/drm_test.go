package drm

import "testing"

func TestKnownKeySystem(t *testing.T) {
	cases := []struct {
		scheme string
		want   string
		ok     bool
	}{
		{"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed", "com.widevine.alpha", true},
		{"urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95", "com.microsoft.playready", true},
		{"com.apple.streamingkeydelivery", "com.apple.fps", true},
		{"identity", "org.w3.clearkey", true},
		{"", "org.w3.clearkey", true},
		{"urn:uuid:deadbeef-0000-0000-0000-000000000000", "", false},
	}
	for _, c := range cases {
		got, ok := KnownKeySystem(c.scheme)
		if ok != c.ok || got != c.want {
			t.Errorf("KnownKeySystem(%q) = (%q, %v), want (%q, %v)", c.scheme, got, ok, c.want, c.ok)
		}
	}
}

func TestAddKeyIDNormalises(t *testing.T) {
	info := NewInfo("com.widevine.alpha")
	info.AddKeyID("01234567-89AB-CDEF-0123-456789ABCDEF")
	if _, ok := info.KeyIDs["0123456789abcdef0123456789abcdef"]; !ok {
		t.Errorf("expected normalised key id present, got %v", info.KeyIDs)
	}
}

func TestKeyIDFromHex(t *testing.T) {
	got, err := KeyIDFromHex("0x0123456789ABCDEF0123456789ABCDEF")
	if err != nil {
		t.Fatalf("KeyIDFromHex: %v", err)
	}
	want := "0123456789abcdef0123456789abcdef"
	if got != want {
		t.Errorf("KeyIDFromHex() = %q, want %q", got, want)
	}

	if _, err := KeyIDFromHex("not-hex-zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestInfoEqual(t *testing.T) {
	a := NewInfo("com.widevine.alpha")
	a.AddKeyID("0123456789abcdef0123456789abcdef")
	b := NewInfo("com.widevine.alpha")
	b.AddKeyID("0123456789abcdef0123456789abcdef")
	if !a.Equal(b) {
		t.Error("expected equal Infos to compare equal")
	}

	c := NewInfo("com.microsoft.playready")
	if a.Equal(c) {
		t.Error("expected different key systems to compare unequal")
	}
}

func TestDecodeBase64InitData(t *testing.T) {
	// "pssh" base64-encoded.
	encoded := "cHNzaA=="
	data, err := DecodeBase64InitData(encoded, InitDataCENC)
	if err != nil {
		t.Fatalf("DecodeBase64InitData: %v", err)
	}
	if string(data.Data) != "pssh" {
		t.Errorf("decoded data = %q, want %q", data.Data, "pssh")
	}
	if data.Type != InitDataCENC {
		t.Errorf("data.Type = %v, want %v", data.Type, InitDataCENC)
	}
}
