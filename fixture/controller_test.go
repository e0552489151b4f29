package fixture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Station-Manager/rs232"
)

func testConfig(sites ...int) *Config {
	cfg := &Config{
		Vendor: "ACME",
		Serial: "FX-0001",
		Commands: map[string]string{
			ActionInit:        "init",
			ActionUSBPowerOn:  "usb on",
			"led_state_pass":  "led green",
			ActionDUTPowerOff: "dut off",
		},
		CommandTimeout: time.Second,
		EventBuffer:    4,
	}
	for _, id := range sites {
		sc := SiteConfig{Config: rs232.DefaultConfig()}
		sc.Device = fmt.Sprintf("/dev/ttyUSB%d", id)
		sc.Site = id
		sc.Serial = fmt.Sprintf("UNIT%d", id)
		sc.DetectToken = "OK"
		sc.StartFlag = "[START]"
		sc.Terminator = "\r"
		cfg.Sites = append(cfg.Sites, sc)
	}
	return cfg
}

func newTestController(t *testing.T, cfg *Config) (*Controller, map[int]*fakeDevice) {
	t.Helper()
	devices := map[int]*fakeDevice{}
	c, err := New(cfg, WithTransportFactory(func(sc SiteConfig) rs232.Transport {
		d := newFakeDevice(map[string]string{
			"init":      "ready OK",
			"usb on":    fmt.Sprintf("site%d usb OK", sc.Site),
			"led green": "OK",
			"dut off":   "OK",
			"custom":    "custom OK",
		})
		devices[sc.Site] = d
		return d
	}))
	require.NoError(t, err)
	return c, devices
}

func TestController_OpenRunsInitAndExec(t *testing.T) {
	c, devices := newTestController(t, testConfig(0, 1))
	require.NoError(t, c.Open())
	defer c.Close()

	assert.Equal(t, []string{"init\r"}, devices[0].written())
	assert.Equal(t, []int{0, 1}, c.Sites())

	reply, err := c.Exec(1, ActionUSBPowerOn)
	require.NoError(t, err)
	assert.Equal(t, "site1 usb OK", reply)

	require.NoError(t, c.SetLED(0, LEDPass))
	assert.Contains(t, devices[0].written(), "led green\r")
}

func TestController_UnknownSiteAndAction(t *testing.T) {
	c, _ := newTestController(t, testConfig(0))
	require.NoError(t, c.Open())
	defer c.Close()

	_, err := c.Exec(7, ActionUSBPowerOn)
	require.ErrorIs(t, err, ErrUnknownSite)
	_, err = c.Exec(0, "levitate")
	require.ErrorIs(t, err, ErrUnknownAction)
	require.ErrorIs(t, c.SetLED(0, LEDPanic), ErrUnknownAction)
	_, err = c.Session(3)
	require.ErrorIs(t, err, ErrUnknownSite)
}

func TestController_SiteOverridesCommand(t *testing.T) {
	cfg := testConfig(0, 1)
	cfg.Sites[1].Commands = map[string]string{ActionDUTPowerOff: "custom"}
	c, devices := newTestController(t, cfg)
	require.NoError(t, c.Open())
	defer c.Close()

	reply, err := c.Exec(1, ActionDUTPowerOff)
	require.NoError(t, err)
	assert.Equal(t, "custom OK", reply)
	assert.Contains(t, devices[1].written(), "custom\r")

	reply, err = c.Exec(0, ActionDUTPowerOff)
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}

func TestController_ExecAll(t *testing.T) {
	c, _ := newTestController(t, testConfig(0, 1, 2))
	require.NoError(t, c.Open())
	defer c.Close()

	results := c.ExecAll(ActionUSBPowerOn)
	require.Len(t, results, 3)
	for id, err := range results {
		assert.NoError(t, err, "site %d", id)
	}
}

func TestController_OpenRollsBack(t *testing.T) {
	cfg := testConfig(0, 1)
	devices := map[int]*fakeDevice{}
	c, err := New(cfg, WithTransportFactory(func(sc SiteConfig) rs232.Transport {
		d := newFakeDevice(map[string]string{"init": "OK"})
		if sc.Site == 1 {
			d.openErr = errors.New("no such device")
		}
		devices[sc.Site] = d
		return d
	}))
	require.NoError(t, err)

	err = c.Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site 1")
	s0, _ := c.Session(0)
	assert.False(t, s0.IsOpen(), "site 0 closed again")
}

func TestController_EventsFanIn(t *testing.T) {
	c, devices := newTestController(t, testConfig(0, 1))
	require.NoError(t, c.Open())
	defer c.Close()

	devices[1].push("[START]")
	select {
	case ev := <-c.Events():
		assert.Equal(t, 1, ev.Site)
		assert.Equal(t, "UNIT1", ev.Serial)
		assert.Equal(t, rs232.EventStart, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestController_EventsDropWhenFull(t *testing.T) {
	c, devices := newTestController(t, testConfig(0))
	require.NoError(t, c.Open())
	defer c.Close()

	for i := 0; i < 10; i++ {
		devices[0].push(fmt.Sprintf("noise %d\n", i))
	}
	require.Eventually(t, func() bool {
		return int64(len(c.Events()))+c.Dropped() == 10
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 6, c.Dropped())
}

func TestController_AbortNotifiesOnce(t *testing.T) {
	c, _ := newTestController(t, testConfig(0, 1))
	require.NoError(t, c.Open())
	defer c.Close()

	select {
	case <-c.Aborted():
		t.Fatal("aborted before Abort")
	default:
	}
	c.Abort()
	select {
	case <-c.Aborted():
	case <-time.After(time.Second):
		t.Fatal("Aborted not closed")
	}
	c.Abort()

	for _, id := range c.Sites() {
		s, _ := c.Session(id)
		assert.True(t, s.StopRequested())
		assert.EqualValues(t, 1, s.Metrics().StopRequests.Load())
	}
}

func TestController_SendAndWaitDetect(t *testing.T) {
	c, devices := newTestController(t, testConfig(0))
	require.NoError(t, c.Open())
	defer c.Close()

	reply, err := c.Send(0, "custom", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "custom OK", reply)

	go func() {
		time.Sleep(10 * time.Millisecond)
		devices[0].push("login: ")
	}()
	require.NoError(t, c.WaitDetect(0, "login:", time.Second))

	err = c.WaitDetect(0, "never", 20*time.Millisecond)
	assert.True(t, rs232.IsTimeout(err))

	snaps := c.Metrics()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].IsConnected)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&Config{})
	require.Error(t, err)

	cfg := testConfig(0, 0)
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined twice")
}
