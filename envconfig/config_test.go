package envconfig

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":               {"", "http://127.0.0.1:11580"},
		"only address":        {"1.2.3.4", "http://1.2.3.4:11580"},
		"only port":           {":1234", "http://:1234"},
		"address and port":    {"1.2.3.4:1234", "http://1.2.3.4:1234"},
		"hostname":            {"example.com", "http://example.com:11580"},
		"hostname and port":   {"example.com:1234", "http://example.com:1234"},
		"zero port":           {":0", "http://:0"},
		"too large port":      {":66000", "http://:11580"},
		"too small port":      {":-1", "http://:11580"},
		"ipv6 localhost":      {"[::1]", "http://[::1]:11580"},
		"ipv6 with port":      {"[::1]:1337", "http://[::1]:1337"},
		"https scheme":        {"https://example.com", "https://example.com:443"},
		"http scheme":         {"http://example.com", "http://example.com:80"},
		"quoted":              {"\"1.2.3.4\"", "http://1.2.3.4:11580"},
		"path":                {"example.com/proxy", "http://example.com:11580/proxy"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DFNET_HOST", tt.value)
			if host := Host(); host.String() != tt.expect {
				t.Errorf("Host() = %q, erwartet %q", host.String(), tt.expect)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	t.Setenv("DFNET_ORIGINS", "http://10.0.0.1,https://example.com")

	origins := AllowedOrigins()
	if diff := cmp.Diff([]string{"http://10.0.0.1", "https://example.com"}, origins[:2]); diff != "" {
		t.Errorf("Origins stimmen nicht (-erwartet +bekommen):\n%s", diff)
	}
	if origins[len(origins)-1] != "file://*" {
		t.Errorf("letzter Origin = %q, erwartet file://*", origins[len(origins)-1])
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"true":  slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("DFNET_DEBUG", value)
			if got := LogLevel(); got != expect {
				t.Errorf("LogLevel() = %v, erwartet %v", got, expect)
			}
		})
	}
}

func TestLoadTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"":     5 * time.Minute,
		"1s":   time.Second,
		"30":   30 * time.Second,
		"0":    time.Duration(math.MaxInt64),
		"-1s":  time.Duration(math.MaxInt64),
		"nope": 5 * time.Minute,
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("DFNET_LOAD_TIMEOUT", value)
			if got := LoadTimeout(); got != expect {
				t.Errorf("LoadTimeout() = %v, erwartet %v", got, expect)
			}
		})
	}
}

func TestUint(t *testing.T) {
	cases := map[string]uint{
		"0":    0,
		"1":    1,
		"1337": 1337,
		"-1":   4,
		"abc":  4,
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("DFNET_UINT", value)
			if got := Uint("DFNET_UINT", 4)(); got != expect {
				t.Errorf("Uint(%q) = %d, erwartet %d", value, got, expect)
			}
		})
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		"yes":   true,
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("DFNET_NOMMAP", value)
			if got := NoMmap(); got != expect {
				t.Errorf("NoMmap() = %v, erwartet %v", got, expect)
			}
		})
	}
}

func TestModel(t *testing.T) {
	t.Setenv("DFNET_MODEL", "/tmp/places2.safetensors")
	if got := Model(); got != "/tmp/places2.safetensors" {
		t.Errorf("Model() = %q", got)
	}
}

func TestValuesContainsAllKeys(t *testing.T) {
	vals := Values()
	for k := range AsMap() {
		if _, ok := vals[k]; !ok {
			t.Errorf("Values() fehlt %s", k)
		}
	}
}
