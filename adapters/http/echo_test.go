package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	apihttp "github.com/artpar/apikit/adapters/http"
)

func decodeEcho(t *testing.T, resp *http.Response) apihttp.EchoResponse {
	t.Helper()
	var out apihttp.EchoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode echo response: %v", err)
	}
	return out
}

func TestEcho_Post(t *testing.T) {
	server := httptest.NewServer(apihttp.NewEchoRouter(zerolog.Nop(), apihttp.EchoConfig{}))
	defer server.Close()

	resp, err := http.Post(server.URL+"/post", "application/json", strings.NewReader(`{"foo":"bar","n":1}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeEcho(t, resp)
	if out.Method != "POST" {
		t.Errorf("Method = %q", out.Method)
	}
	j, ok := out.JSON.(map[string]any)
	if !ok || j["foo"] != "bar" || j["n"] != float64(1) {
		t.Errorf("JSON = %#v", out.JSON)
	}
	if out.Data != `{"foo":"bar","n":1}` {
		t.Errorf("Data = %q", out.Data)
	}
	if out.Headers["Content-Type"] != "application/json" {
		t.Errorf("Headers = %v", out.Headers)
	}
}

func TestEcho_GetArgs(t *testing.T) {
	server := httptest.NewServer(apihttp.NewEchoRouter(zerolog.Nop(), apihttp.EchoConfig{}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/get?a=1&tag=x&tag=y")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	out := decodeEcho(t, resp)
	if out.Args["a"] != "1" {
		t.Errorf("args a = %#v", out.Args["a"])
	}
	tags, ok := out.Args["tag"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "x" || tags[1] != "y" {
		t.Errorf("args tag = %#v", out.Args["tag"])
	}
	if out.JSON != nil {
		t.Errorf("JSON = %#v, want nil", out.JSON)
	}
	if !strings.HasSuffix(out.URL, "/get?a=1&tag=x&tag=y") {
		t.Errorf("URL = %q", out.URL)
	}
}

func TestEcho_MethodRouting(t *testing.T) {
	server := httptest.NewServer(apihttp.NewEchoRouter(zerolog.Nop(), apihttp.EchoConfig{}))
	defer server.Close()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"PUT", "/put", http.StatusOK},
		{"PATCH", "/patch", http.StatusOK},
		{"DELETE", "/delete", http.StatusOK},
		{"DELETE", "/anything/x/y", http.StatusOK},
		{"GET", "/post", http.StatusMethodNotAllowed},
		{"GET", "/status/418", http.StatusTeapot},
		{"POST", "/status/503", http.StatusServiceUnavailable},
		{"GET", "/status/abc", http.StatusBadRequest},
		{"GET", "/health", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, server.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestEcho_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "echo_test_total", Help: "test"}))

	server := httptest.NewServer(apihttp.NewEchoRouter(zerolog.Nop(), apihttp.EchoConfig{Gatherer: reg}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "echo_test_total") {
		t.Errorf("metrics body missing counter: %s", body)
	}
}
