package soundtouch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/resonate-home/resonate/internal/testutil"
)

// fakeSpeaker serves canned responses per path. Paths not present return
// 404, which is exactly how real hardware signals an absent feature.
type fakeSpeaker struct {
	t        *testing.T
	srv      *httptest.Server
	payloads map[string]string
	statuses map[string]int
	requests []string
}

func newFakeSpeaker(t *testing.T, payloads map[string]string) *fakeSpeaker {
	t.Helper()
	f := &fakeSpeaker{t: t, payloads: payloads, statuses: map[string]int{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r.URL.Path)
		if status, ok := f.statuses[r.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}
		body, ok := f.payloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// addr and port split the httptest listener address for the client.
func (f *fakeSpeaker) addr() string {
	host, _, err := net.SplitHostPort(f.srv.Listener.Addr().String())
	if err != nil {
		f.t.Fatalf("split fake speaker addr: %v", err)
	}
	return host
}

func (f *fakeSpeaker) port() int {
	_, portStr, err := net.SplitHostPort(f.srv.Listener.Addr().String())
	if err != nil {
		f.t.Fatalf("split fake speaker addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func (f *fakeSpeaker) client() *Client {
	return NewClient(nil, testutil.Logger(), WithPort(f.port()))
}

const infoTwoInterfaces = `<?xml version="1.0" encoding="UTF-8" ?>
<info deviceID="08DF1F0E9A22">
  <name>Living Room</name>
  <type>SoundTouch 20</type>
  <margeAccountUUID>123456</margeAccountUUID>
  <components>
    <component>
      <componentCategory>SCM</componentCategory>
      <softwareVersion>27.0.6.46330.5043500 epdbuild</softwareVersion>
      <serialNumber>P7277351109225535AE</serialNumber>
    </component>
  </components>
  <networkInfo type="SCM">
    <macAddress>08DF1F0E9A22</macAddress>
    <ipAddress>192.168.1.42</ipAddress>
  </networkInfo>
  <networkInfo type="SMSC">
    <macAddress>08DF1F0E9A20</macAddress>
    <ipAddress>192.168.1.43</ipAddress>
  </networkInfo>
  <moduleType>sm2</moduleType>
  <variant>spotty</variant>
</info>`

func TestInfo_ParsesIdentity(t *testing.T) {
	speaker := newFakeSpeaker(t, map[string]string{"/info": infoTwoInterfaces})

	info, err := speaker.client().Info(context.Background(), speaker.addr())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	if info.DeviceID != "08DF1F0E9A22" {
		t.Errorf("DeviceID = %q, want 08DF1F0E9A22", info.DeviceID)
	}
	if info.Name != "Living Room" {
		t.Errorf("Name = %q, want Living Room", info.Name)
	}
	if info.Model != "SoundTouch 20" {
		t.Errorf("Model = %q, want SoundTouch 20", info.Model)
	}
	if info.FirmwareVersion == "" {
		t.Error("FirmwareVersion empty, want component software version")
	}
	if info.ModuleType != "sm2" {
		t.Errorf("ModuleType = %q, want sm2", info.ModuleType)
	}
}

func TestInfo_FirstInterfaceAuthoritative(t *testing.T) {
	// Hardware with two interfaces: the first reported entry is the
	// reachable address, and parsing must not assume exactly one exists.
	speaker := newFakeSpeaker(t, map[string]string{"/info": infoTwoInterfaces})

	info, err := speaker.client().Info(context.Background(), speaker.addr())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	if len(info.Interfaces) != 2 {
		t.Fatalf("interfaces = %d, want 2", len(info.Interfaces))
	}
	if got := info.Address(); got != "192.168.1.42" {
		t.Errorf("Address() = %q, want first interface 192.168.1.42", got)
	}
	if info.Interfaces[1].Kind != "SMSC" {
		t.Errorf("second interface kind = %q, want SMSC", info.Interfaces[1].Kind)
	}
}

func TestInfo_NoInterfacesNoPanic(t *testing.T) {
	speaker := newFakeSpeaker(t, map[string]string{
		"/info": `<info deviceID="08DF1F0E9A22"><name>Bare</name><type>SoundTouch 10</type></info>`,
	})

	info, err := speaker.client().Info(context.Background(), speaker.addr())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if got := info.Address(); got != "" {
		t.Errorf("Address() = %q, want empty for no interfaces", got)
	}
}

func TestInfo_MissingDeviceIDRejected(t *testing.T) {
	speaker := newFakeSpeaker(t, map[string]string{
		"/info": `<info><name>Nameless</name></info>`,
	})

	if _, err := speaker.client().Info(context.Background(), speaker.addr()); err == nil {
		t.Fatal("Info without deviceID should fail")
	}
}

func TestInfo_MalformedXMLRejected(t *testing.T) {
	speaker := newFakeSpeaker(t, map[string]string{"/info": `<info deviceID="x"><name>`})

	if _, err := speaker.client().Info(context.Background(), speaker.addr()); err == nil {
		t.Fatal("Info with malformed payload should fail")
	}
}

func TestInfo_Unreachable(t *testing.T) {
	c := NewClient(nil, testutil.Logger(), WithPort(1))

	if _, err := c.Info(context.Background(), "127.0.0.1"); err == nil {
		t.Fatal("Info against closed port should fail")
	}
}
