package amcrest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "admin"
	testPass  = "secret"
	testRealm = "Login to AB123"
	testNonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"
)

// digestProtect wraps h with a server-side digest check.
func digestProtect(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Digest ") || !validDigest(r, header) {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s", opaque="5ccc069c403ebaf9f0171e9517f40e41"`, testRealm, testNonce))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func validDigest(r *http.Request, header string) bool {
	p := parseAuthParams(strings.TrimPrefix(header, "Digest "))
	if p["username"] != testUser || p["realm"] != testRealm || p["nonce"] != testNonce {
		return false
	}
	if p["uri"] != r.RequestURI {
		return false
	}
	ha1 := md5hex(testUser + ":" + testRealm + ":" + testPass)
	ha2 := md5hex(r.Method + ":" + p["uri"])
	want := md5hex(strings.Join([]string{ha1, testNonce, p["nc"], p["cnonce"], p["qop"], ha2}, ":"))
	return p["response"] == want
}

// basicProtect wraps h with a server-side Basic check.
func basicProtect(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testUser || pass != testPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="camera"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// parseAuthParams splits `k1="v, 1", k2=v2` into a map, honouring quotes.
func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)
	for s != "" {
		s = strings.TrimLeft(s, " ,")
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		key = strings.ToLower(strings.TrimSpace(key))

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				value, rest = rest[1:], ""
			} else {
				value, rest = rest[1:end+1], rest[end+2:]
			}
		} else {
			value, rest, _ = strings.Cut(rest, ",")
			value = strings.TrimSpace(value)
		}

		params[key] = value
		s = rest
	}
	return params
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// cameraHandler answers the CGI endpoints the bridge uses.
type cameraHandler struct {
	mu     sync.Mutex
	config map[string]string
	sets   []string
}

func newCameraHandler() *cameraHandler {
	return &cameraHandler{config: map[string]string{
		"VideoTalkPhoneGeneral.RingVolume": "80",
		"Lighting_V2[0][0][1].Mode":        "Off",
	}}
}

func (h *cameraHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")

	switch r.URL.Path {
	case "/cgi-bin/magicBox.cgi":
		switch action {
		case "getDeviceType":
			fmt.Fprint(w, "type=AD410\r\n")
		case "getSerialNo":
			fmt.Fprint(w, "sn=AB123\r\n")
		case "getSoftwareVersion":
			fmt.Fprint(w, "version=1.000.0000000.7.R,build:2021-02-04\r\n")
		case "getMachineName":
			fmt.Fprint(w, "name=Front Door\r\n")
		default:
			http.Error(w, "Error", http.StatusBadRequest)
		}

	case "/cgi-bin/configManager.cgi":
		h.mu.Lock()
		defer h.mu.Unlock()
		switch action {
		case "getConfig":
			name := q.Get("name")
			v, ok := h.config[name]
			if !ok {
				fmt.Fprint(w, "Error\r\nBad Request!\r\n")
				return
			}
			fmt.Fprintf(w, "table.%s=%s\r\n", name, v)
		case "setConfig":
			for k, vs := range q {
				if k == "action" {
					continue
				}
				h.sets = append(h.sets, k+"="+vs[0])
				h.config[k] = vs[0]
			}
			fmt.Fprint(w, "OK\r\n")
		}

	case "/cgi-bin/storageDevice.cgi":
		fmt.Fprint(w, strings.Join([]string{
			"list.info[0].Detail[0].Path=/dev/mmc0",
			"list.info[0].Detail[0].TotalBytes=32212254720.000000",
			"list.info[0].Detail[0].UsedBytes=8053063680.000000",
			"list.info[0].Detail[1].TotalBytes=0.000000",
			"list.info[0].Detail[1].UsedBytes=0.000000",
			"",
		}, "\r\n"))

	default:
		http.NotFound(w, r)
	}
}

func newTestCamera(t *testing.T, h http.Handler) (*Camera, *httptest.Server) {
	t.Helper()
	return newTestCameraWithPassword(t, h, testPass)
}

func newTestCameraWithPassword(t *testing.T, h http.Handler, password string) (*Camera, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cam := NewCamera(CameraConfig{
		Host:         host,
		Port:         port,
		Username:     testUser,
		Password:     password,
		EventRetries: 1,
		RetryDelay:   time.Millisecond,
	})
	return cam, srv
}

func TestCamera_Identity(t *testing.T) {
	cam, _ := newTestCamera(t, digestProtect(newCameraHandler()))

	id, err := cam.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DeviceIdentity{
		Name:            "Front Door",
		Model:           ModelAD410,
		SerialNumber:    "AB123",
		SoftwareVersion: "1.000.0000000.7.R",
	}, id)
}

func TestCamera_IdentityUnreachable(t *testing.T) {
	cam, srv := newTestCamera(t, newCameraHandler())
	srv.Close()

	_, err := cam.Identity(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
}

func TestCamera_WrongPassword(t *testing.T) {
	cam, _ := newTestCameraWithPassword(t, digestProtect(newCameraHandler()), "wrong")

	_, err := cam.GetField(context.Background(), "VideoTalkPhoneGeneral.RingVolume")
	require.ErrorIs(t, err, ErrDeviceError)
	assert.Contains(t, err.Error(), "401")
}

func TestCamera_GetField(t *testing.T) {
	cam, _ := newTestCamera(t, digestProtect(newCameraHandler()))
	ctx := context.Background()

	v, err := cam.GetField(ctx, "VideoTalkPhoneGeneral.RingVolume")
	require.NoError(t, err)
	assert.Equal(t, "80", v)

	v, err = cam.GetField(ctx, "Lighting_V2[0][0][1].Mode")
	require.NoError(t, err)
	assert.Equal(t, "Off", v)

	_, err = cam.GetField(ctx, "Missing.Key")
	assert.ErrorIs(t, err, ErrDeviceError)
}

func TestCamera_SetField(t *testing.T) {
	h := newCameraHandler()
	cam, _ := newTestCamera(t, digestProtect(h))
	ctx := context.Background()

	ok, err := cam.SetField(ctx, "Lighting_V2[0][0][1].Mode", "ForceOn")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := cam.GetField(ctx, "Lighting_V2[0][0][1].Mode")
	require.NoError(t, err)
	assert.Equal(t, "ForceOn", v)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"Lighting_V2[0][0][1].Mode=ForceOn"}, h.sets)
}

func TestCamera_SetFieldRejected(t *testing.T) {
	cam, _ := newTestCamera(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Error\r\n")
	}))

	ok, err := cam.SetField(context.Background(), "LightGlobal[0].Enable", "true")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCamera_Storage(t *testing.T) {
	cam, _ := newTestCamera(t, digestProtect(newCameraHandler()))

	info, err := cam.Storage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StorageInfo{UsedPercent: 25, UsedGB: 7.5, TotalGB: 30}, info)
}

func TestCamera_BasicAuth(t *testing.T) {
	cam, _ := newTestCamera(t, basicProtect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "table.LightGlobal[0].Enable=true\r\n")
	})))

	v, err := cam.GetField(context.Background(), "LightGlobal[0].Enable")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestCamera_ChallengeAnsweredOnce(t *testing.T) {
	tests := []struct {
		name    string
		protect func(http.Handler) http.Handler
	}{
		{"digest", digestProtect},
		{"basic", basicProtect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var challenges atomic.Int32
			h := tt.protect(newCameraHandler())
			cam, _ := newTestCamera(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, r)
				if rec.Code == http.StatusUnauthorized {
					challenges.Add(1)
				}
				for k, v := range rec.Header() {
					w.Header()[k] = v
				}
				w.WriteHeader(rec.Code)
				_, _ = w.Write(rec.Body.Bytes())
			}))

			for range 3 {
				v, err := cam.GetField(context.Background(), "VideoTalkPhoneGeneral.RingVolume")
				require.NoError(t, err)
				assert.Equal(t, "80", v)
			}
			assert.Equal(t, int32(1), challenges.Load())
		})
	}
}

func TestCamera_Ping(t *testing.T) {
	cam, srv := newTestCamera(t, newCameraHandler())
	require.NoError(t, cam.Ping(context.Background()))

	srv.Close()
	assert.ErrorIs(t, cam.Ping(context.Background()), ErrDeviceUnreachable)
}

func writePart(w http.ResponseWriter, body string) {
	fmt.Fprintf(w, "--myboundary\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s\r\n", len(body), body)
	w.(http.Flusher).Flush()
}

func TestCamera_Events(t *testing.T) {
	var attaches atomic.Int32
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cgi-bin/eventManager.cgi" || r.URL.Query().Get("action") != "attach" {
			http.NotFound(w, r)
			return
		}
		if attaches.Add(1) > 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=myboundary")
		w.WriteHeader(http.StatusOK)
		writePart(w, "Heartbeat")
		writePart(w, "Code=VideoMotion;action=Start;index=0")
		writePart(w, `Code=_DoTalkAction_;action=Pulse;index=0;data={"Action":"Invite","CallID":"1;2"}`)
	})
	cam, _ := newTestCamera(t, digestProtect(stream))

	var events []Event
	var final error
	for ev, err := range cam.Events(context.Background()) {
		if err != nil {
			final = err
			break
		}
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, "VideoMotion", events[0].Code)
	assert.Equal(t, "Start", events[0].Payload.Action)
	assert.Equal(t, "_DoTalkAction_", events[1].Code)
	assert.Equal(t, "Invite", events[1].Payload.DataString("Action"))
	assert.Equal(t, "1;2", events[1].Payload.DataString("CallID"))

	assert.ErrorIs(t, final, ErrDeviceError)
	assert.Equal(t, int32(2), attaches.Load())
}

func TestCamera_EventsConsumerStops(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 3; i++ {
			writePart(w, "Code=VideoMotion;action=Start;index=0")
		}
		<-r.Context().Done()
	})
	cam, _ := newTestCamera(t, stream)

	n := 0
	for _, err := range cam.Events(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestCamera_EventsIdleTimeout(t *testing.T) {
	var attaches atomic.Int32
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attaches.Add(1) > 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		writePart(w, "Code=VideoMotion;action=Stop;index=0")
		<-r.Context().Done()
	})
	cam, _ := newTestCamera(t, stream)
	cam.cfg.ReadTimeout = 50 * time.Millisecond

	var events []Event
	var final error
	for ev, err := range cam.Events(context.Background()) {
		if err != nil {
			final = err
			break
		}
		events = append(events, ev)
	}

	assert.Len(t, events, 1)
	assert.ErrorIs(t, final, ErrDeviceError)
	assert.Equal(t, int32(2), attaches.Load())
}

func TestCamera_EventsCancelled(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	cam, _ := newTestCamera(t, stream)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for _, err := range cam.Events(ctx) {
		t.Fatalf("unexpected element, err=%v", err)
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		code   string
		action string
		data   map[string]any
	}{
		{name: "heartbeat", body: "Heartbeat\r\n"},
		{name: "empty", body: "\r\n"},
		{name: "garbage", body: "hello"},
		{
			name: "no data", body: "Code=VideoMotion;action=Start;index=0\r\n",
			ok: true, code: "VideoMotion", action: "Start",
		},
		{
			name: "with data",
			body: `Code=CrossRegionDetection;action=Start;index=0;data={"ObjectType":"Human"}`,
			ok:   true, code: "CrossRegionDetection", action: "Start",
			data: map[string]any{"ObjectType": "Human"},
		},
		{
			name: "multiline data",
			body: "Code=LeFunctionStatusSync;action=Pulse;index=0;data={\n\"Function\" : \"WightLight\",\n\"Status\" : true\n}",
			ok:   true, code: "LeFunctionStatusSync", action: "Pulse",
			data: map[string]any{"Function": "WightLight", "Status": true},
		},
		{
			name: "invalid data kept as event",
			body: "Code=X;action=Pulse;index=1;data={broken",
			ok:   true, code: "X", action: "Pulse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseEvent(tt.body)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.code, ev.Code)
			assert.Equal(t, tt.action, ev.Payload.Action)
			assert.Equal(t, tt.data, ev.Payload.Data)
		})
	}
}

func TestPartReader_NoContentLength(t *testing.T) {
	r := newPartReader(strings.NewReader(
		"--myboundary\r\nContent-Type: text/plain\r\n\r\nCode=A;action=Start;index=0\r\n" +
			"--myboundary\r\nContent-Length: 9\r\n\r\nHeartbeat\r\n"))

	body, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "Code=A;action=Start;index=0", body)

	body, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, "Heartbeat", body)

	_, err = r.next()
	assert.ErrorIs(t, err, errStreamClosed)
}
