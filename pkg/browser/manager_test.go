package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSessionRequiresInitialize(t *testing.T) {
	m := NewSessionManager(nil)
	_, err := m.StartSession("main", SessionOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, m.HasSessions())
}

func TestStartSessionLimits(t *testing.T) {
	m := NewSessionManager(nil)
	m.sessions["main"] = &Session{Name: "main"}

	_, err := m.StartSession("main", SessionOptions{})
	assert.EqualError(t, err, `session "main" already exists`)

	m.SetMaxSessions(1)
	_, err = m.StartSession("other", SessionOptions{})
	assert.EqualError(t, err, "maximum number of sessions (1) reached")
}

func TestInitializeRejectsUnknownBrowser(t *testing.T) {
	m := NewSessionManager(nil)
	assert.EqualError(t, m.Initialize("netscape"), `unknown browser type "netscape"`)
}

func TestSessionOptionsDefaults(t *testing.T) {
	o := SessionOptions{}.withDefaults()
	assert.Equal(t, Chromium, o.BrowserType)
	assert.Equal(t, &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}, o.Viewport)
	assert.Equal(t, DefaultTimeout, o.Timeout)
	assert.Equal(t, DefaultSettleQuiet, o.SettleQuiet)

	o = SessionOptions{BrowserType: WebKit, Viewport: &Viewport{Width: 800, Height: 600}, Timeout: 5}.withDefaults()
	assert.Equal(t, WebKit, o.BrowserType)
	assert.Equal(t, 800, o.Viewport.Width)
	assert.Equal(t, 5.0, o.Timeout)
}

func TestSessionLookupAndListing(t *testing.T) {
	m := NewSessionManager(nil)
	old := time.Now().Add(-time.Hour)
	m.sessions["b"] = &Session{Name: "b", BrowserType: Firefox, LastUsedAt: old}
	m.sessions["a"] = &Session{Name: "a", BrowserType: Chromium, Headless: true, LastUsedAt: old}

	infos := m.ListSessions()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.True(t, infos[0].Headless)
	assert.Equal(t, Firefox, infos[1].BrowserType)

	s, err := m.GetSession("a")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), s.LastUsedAt, time.Second, "lookups mark the session used")

	_, err = m.GetSession("missing")
	assert.EqualError(t, err, `session "missing" not found`)
}

func TestCleanupIdleSessions(t *testing.T) {
	m := NewSessionManager(nil)
	m.SetIdleTimeout(time.Minute)
	now := time.Now()
	m.sessions["stale"] = &Session{Name: "stale", LastUsedAt: now.Add(-2 * time.Minute)}
	m.sessions["older"] = &Session{Name: "older", LastUsedAt: now.Add(-time.Hour)}
	m.sessions["fresh"] = &Session{Name: "fresh", LastUsedAt: now}

	closed, err := m.CleanupIdleSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "stale"}, closed)

	infos := m.ListSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "fresh", infos[0].Name)
}

func TestCloseSession(t *testing.T) {
	m := NewSessionManager(nil)
	m.sessions["main"] = &Session{Name: "main"}

	require.NoError(t, m.CloseSession("main"))
	assert.False(t, m.HasSessions())
	assert.EqualError(t, m.CloseSession("main"), `session "main" not found`)

	m.sessions["x"] = &Session{Name: "x"}
	require.NoError(t, m.Shutdown())
	assert.False(t, m.HasSessions())
}

func TestAwaitReturnsOnCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := await(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := await(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	boom := errors.New("boom")
	assert.ErrorIs(t, run(context.Background(), func() error { return boom }), boom)
}

func TestTimeoutMs(t *testing.T) {
	assert.Equal(t, 1500.0, *timeoutMs(context.Background(), 1500*time.Millisecond))
	assert.Equal(t, 1.0, *timeoutMs(context.Background(), 0), "never zero, which playwright reads as no timeout")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	got := *timeoutMs(ctx, time.Minute)
	assert.LessOrEqual(t, got, 200.0)
	assert.Greater(t, got, 100.0)
}

func TestDecodeInto(t *testing.T) {
	var boxes []struct {
		Text string  `json:"text"`
		Left float64 `json:"left"`
	}
	require.NoError(t, decodeInto([]interface{}{map[string]interface{}{"text": "Hi", "left": 4}}, &boxes))
	require.Len(t, boxes, 1)
	assert.Equal(t, "Hi", boxes[0].Text)
	assert.Equal(t, 4.0, boxes[0].Left)

	assert.NoError(t, decodeInto("ignored", nil))
}
