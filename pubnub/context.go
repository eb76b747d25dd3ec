// Package pubnub provides the Context and Pool types that are the public
// entry point of the library (§4.7): Context owns one identity's transport,
// buffers, and in-flight transaction record; Pool manages a fixed or
// heap-grown collection of Contexts. This mirrors the teacher's
// Session/SessionManager split, generalised from arbitrary HTTP automation
// to the PubNub REST/subscribe protocol.
package pubnub

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pubnub-go/pncore/buffer"
	"github.com/pubnub-go/pncore/config"
	"github.com/pubnub-go/pncore/connengine"
	"github.com/pubnub-go/pncore/logger"
	"github.com/pubnub-go/pncore/metrics"
	"github.com/pubnub-go/pncore/pnerror"
	"github.com/pubnub-go/pncore/proxy"
	"github.com/pubnub-go/pncore/subscribe"
	"github.com/pubnub-go/pncore/transaction"
	"github.com/pubnub-go/pncore/urlbuilder"
)

// Context is one independent identity's connection to the PubNub network:
// its own TX/RX buffer pair, dialer, proxy configuration, and the single
// in-flight transaction record §3 requires ("at most one transaction at a
// time" per Context).
//
// A sync.RWMutex guards the mutable configuration fields (auth, origin,
// proxy, ...) so callers may reconfigure a Context from one goroutine while
// another reads it, the same concurrency shape as the teacher's
// session.Session.
type Context struct {
	id int

	mu         sync.RWMutex
	publishKey string
	subKey     string
	userID     string
	auth       string
	authToken  string
	origin     string
	port       int
	useSSL     bool
	tlsOpts    connengine.TLSOptions
	caCertFile string
	caCertDir  string

	proxyMgr proxy.Manager
	keepAlive connengine.KeepAliveBudget

	tx *buffer.TX
	rx *buffer.RX

	dialer *connengine.Dialer

	cancelled bool

	lastResult      pnerror.Result
	lastHTTPCode    int
	lastRetryAfter  string
	lastPublishResult string
	lastTimeToken   string
	lastBody        []byte

	// msgQueue/chQueue hold the most recently received subscribe envelope's
	// message and channel lists; Get/GetChannel step through them one
	// element at a time and return nil (Get) or "" (GetChannel) once
	// exhausted (§8 round-trip law).
	msgQueue  [][]byte
	msgCursor int
	chQueue   []string
	chCursor  int

	engine *subscribe.Engine

	log   *logger.Manager
	stats *metrics.Metrics
}

// NewContext constructs one Context from cfg, numbered id within its Pool.
func NewContext(id int, cfg *config.Config) (*Context, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pubnub: context %d: config must not be nil", id)
	}
	resolver := connengine.NewDNSResolver(cfg.DNSServers, cfg.IPv6Preferred, cfg.DNSRetries)
	dialer := connengine.NewDialer(resolver, cfg.WaitConnectTimeout, connengine.KeepAliveBudget{
		Timeout: cfg.KeepAliveTimeout,
		MaxOps:  cfg.KeepAliveMaxOps,
	})

	c := &Context{
		id:         id,
		publishKey: cfg.PublishKey,
		subKey:     cfg.SubscribeKey,
		userID:     cfg.UserID,
		origin:     cfg.Origin,
		port:       cfg.Port,
		useSSL:     cfg.UseSSL,
		tx:         buffer.NewTX(buffer.DefaultTXCapacity),
		rx:         buffer.NewGrowableRX(buffer.DefaultTXCapacity),
		dialer:     dialer,
		keepAlive: connengine.KeepAliveBudget{
			Timeout: cfg.KeepAliveTimeout,
			MaxOps:  cfg.KeepAliveMaxOps,
		},
		log:   logger.NewManager(logger.New(logger.LevelInfo), logger.LevelInfo),
		stats: metrics.NewMetrics(),
	}
	if cfg.ProxyFile != "" {
		if err := c.proxyMgr.LoadFromFile(cfg.ProxyFile); err != nil {
			return nil, fmt.Errorf("pubnub: context %d: load proxy file: %w", id, err)
		}
	}
	c.log.WithField("context_id", id).Infof("context created, origin=%s", cfg.Origin)
	return c, nil
}

// Stats returns the Context's request counters (§5 observability), shared
// read-only across whatever goroutines poll it for a dashboard or metrics
// exporter.
func (c *Context) Stats() *metrics.Metrics { return c.stats }

// AttachStats replaces the Context's counters with a pool-wide shared
// instance, so a Pool can expose one aggregate Metrics to a dashboard instead
// of each Context reporting in isolation. Must be called before the Context
// handles any traffic.
func (c *Context) AttachStats(m *metrics.Metrics) {
	if m != nil {
		c.stats = m
	}
}

// SetLogLevel changes the minimum severity the Context's logger emits.
func (c *Context) SetLogLevel(level logger.Level) { c.log.SetLevel(level) }

// AddLogSink registers an additional log destination alongside the
// Context's default logger (§5 logger manager): every transaction/engine
// log line reaches every registered sink, not just the default one.
func (c *Context) AddLogSink(s logger.Sink) { c.log.AddSink(s) }

// RemoveLogSink unregisters a previously added log sink.
func (c *Context) RemoveLogSink(s logger.Sink) { c.log.RemoveSink(s) }

// ID returns the Context's position within its owning Pool.
func (c *Context) ID() int { return c.id }

// --- §4.7 configuration setters ---

func (c *Context) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Context) SetAuth(auth string) {
	c.mu.Lock()
	c.auth = auth
	c.mu.Unlock()
}

func (c *Context) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

func (c *Context) SetOrigin(origin string) error {
	ascii, err := urlbuilder.ValidateOrigin(origin)
	if err != nil {
		return fmt.Errorf("pubnub: set origin: %w", err)
	}
	c.mu.Lock()
	c.origin = ascii
	c.mu.Unlock()
	return nil
}

func (c *Context) SetPort(port int) {
	c.mu.Lock()
	c.port = port
	c.mu.Unlock()
}

func (c *Context) SetSSLOptions(useSSL bool) {
	c.mu.Lock()
	c.useSSL = useSSL
	c.mu.Unlock()
}

func (c *Context) SetSSLVerifyLocations(caCertFile, caCertDir string) {
	c.mu.Lock()
	c.tlsOpts.UseSystemCertStore = false
	c.caCertFile = caCertFile
	c.caCertDir = caCertDir
	c.mu.Unlock()
}

func (c *Context) SSLUseSystemCertificateStore() {
	c.mu.Lock()
	c.tlsOpts.UseSystemCertStore = true
	c.mu.Unlock()
}

func (c *Context) SetProxyManual(d proxy.Descriptor) {
	c.proxyMgr.SetManual(d)
}

func (c *Context) SetProxyFromSystem(filename string) error {
	return c.proxyMgr.LoadFromFile(filename)
}

func (c *Context) SetProxyAuthenticationBasic(username, password string) {
	c.proxyMgr.SetAuthentication(proxy.AuthBasic, "", username, password)
}

func (c *Context) SetProxyAuthenticationDigest(realm, username, password string) {
	c.proxyMgr.SetAuthentication(proxy.AuthDigest, realm, username, password)
}

func (c *Context) SetProxyAuthenticationNTLM(username, password string) {
	c.proxyMgr.SetAuthentication(proxy.AuthNTLM, "", username, password)
}

func (c *Context) SetKeepAliveParam(timeout time.Duration, maxOps int) {
	c.mu.Lock()
	c.keepAlive = connengine.KeepAliveBudget{Timeout: timeout, MaxOps: maxOps}
	c.mu.Unlock()
}

func (c *Context) UseHTTPKeepAlive(enabled bool) {
	c.mu.Lock()
	if !enabled {
		c.keepAlive = connengine.KeepAliveBudget{MaxOps: 1}
	}
	c.mu.Unlock()
}

// --- last-result introspection ---

func (c *Context) LastResult() pnerror.Result    { return c.lastResult }
func (c *Context) LastHTTPCode() int             { return c.lastHTTPCode }
func (c *Context) LastHTTPRetryHeader() string   { return c.lastRetryAfter }
func (c *Context) LastPublishResult() string     { return c.lastPublishResult }
func (c *Context) LastTimeToken() string         { return c.lastTimeToken }

// Get steps through the most recently received subscribe response's message
// list one element at a time, returning nil once every message has been
// consumed (§8 round-trip law: get, get, ... get returns null). A fresh
// subscribe response resets the cursor to the start of its own list.
func (c *Context) Get() []byte {
	if c.msgCursor >= len(c.msgQueue) {
		return nil
	}
	msg := c.msgQueue[c.msgCursor]
	c.msgCursor++
	return msg
}

// GetChannel steps through the channel list delivered alongside the last
// subscribe response, independently of Get's message cursor, returning ""
// once exhausted. It takes no channel argument: the channel a message
// arrived on is part of the response, not a caller-supplied filter.
func (c *Context) GetChannel() string {
	if c.chCursor >= len(c.chQueue) {
		return ""
	}
	ch := c.chQueue[c.chCursor]
	c.chCursor++
	return ch
}

// GetV2 drains one (message, channel) pair at a time, pairing Get and
// GetChannel's independent cursors, and reports ok=false once the message
// queue is exhausted; a message with no channel left to pair returns ""
// as its channel (§4.6 "emit_messages: drain pubnub_get_v2 until the queue
// is empty").
func (c *Context) GetV2() (message []byte, channel string, ok bool) {
	if c.msgCursor >= len(c.msgQueue) {
		return nil, "", false
	}
	message = c.msgQueue[c.msgCursor]
	c.msgCursor++
	if c.chCursor < len(c.chQueue) {
		channel = c.chQueue[c.chCursor]
		c.chCursor++
	}
	return message, channel, true
}

// HistoryMessages returns the message array of the most recently completed
// include_token History/FetchHistory call.
func (c *Context) HistoryMessages() ([][]byte, error) {
	env, err := parseHistoryEnvelope(c.lastBody)
	if err != nil {
		return nil, err
	}
	return env.Messages, nil
}

// HistoryFirstTimetoken and HistoryLastTimetoken expose the three-slot
// (array/firstTT/lastTT) view of an include_token History response: the
// message array is read via HistoryMessages, and the two bounding
// timetokens via these accessors.
func (c *Context) HistoryFirstTimetoken() (string, error) {
	env, err := parseHistoryEnvelope(c.lastBody)
	if err != nil {
		return "", err
	}
	return env.FirstTimetoken, nil
}

func (c *Context) HistoryLastTimetoken() (string, error) {
	env, err := parseHistoryEnvelope(c.lastBody)
	if err != nil {
		return "", err
	}
	return env.LastTimetoken, nil
}

func (c *Context) identity() urlbuilder.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	auth := c.auth
	if c.authToken != "" {
		auth = c.authToken
	}
	return urlbuilder.Identity{SDKName: "pncore-go", SDKVersion: "1.0", UUID: c.userID, Auth: auth}
}

// Cancel aborts the in-flight transaction, if any (§7 Cancelled).
func (c *Context) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	if c.engine != nil {
		c.engine.Cancel()
	}
	c.log.WithField("context_id", c.id).Info("context cancelled")
}

// execute runs path to completion against the configured origin, blocking
// the calling goroutine -- the synchronous convenience form built on top of
// transaction.Transaction's non-blocking Advance loop.
func (c *Context) execute(ctx context.Context, path string) pnerror.Result {
	c.mu.RLock()
	origin, port, useSSL, tlsOpts := c.origin, c.port, c.useSSL, c.tlsOpts
	caFile, caDir := c.caCertFile, c.caCertDir
	c.mu.RUnlock()

	if useSSL && !tlsOpts.UseSystemCertStore && (caFile != "" || caDir != "") {
		pool, err := loadCertPool(caFile, caDir)
		if err != nil {
			c.lastResult = pnerror.IOError
			return c.lastResult
		}
		tlsOpts.RootCAs = pool
	}

	req := transaction.Request{
		Method:  "GET",
		Host:    origin,
		Port:    port,
		Path:    path,
		UseTLS:  useSSL,
		TLSOpts: tlsOpts,
		Proxy:   c.proxyMgr.Next(),
	}
	txn := transaction.New(req, c.dialer, c.tx, c.rx)
	c.stats.IncrementTotal()

	for {
		c.mu.RLock()
		cancelled := c.cancelled
		c.mu.RUnlock()
		if cancelled {
			c.lastResult = pnerror.Cancelled
			c.stats.IncrementFailed()
			return c.lastResult
		}

		res := txn.Advance(ctx)
		if res != pnerror.InProgress {
			c.lastResult = res
			if resp := txn.Response(); resp != nil {
				c.lastHTTPCode = resp.StatusCode
				c.lastBody = resp.Body
				c.lastRetryAfter = resp.HeaderValue("retry-after")
			}
			c.rx.Reset()
			if res.IsError() {
				c.stats.IncrementFailed()
				c.log.WithField("context_id", c.id).Errorf("transaction %s %s failed: %s", req.Method, path, res)
			} else {
				c.stats.IncrementSuccess()
				c.log.WithField("context_id", c.id).Debugf("transaction %s %s -> %s", req.Method, path, res)
			}
			return res
		}
	}
}

// loadCertPool builds a certificate pool from an individual PEM file and/or
// every *.pem/*.crt file in a directory, for set_ssl_verify_locations.
func loadCertPool(caCertFile, caCertDir string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	loadedAny := false

	if caCertFile != "" {
		pem, err := os.ReadFile(caCertFile) // #nosec G304 -- operator-supplied CA path
		if err != nil {
			return nil, fmt.Errorf("pubnub: read CA cert file %q: %w", caCertFile, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("pubnub: no valid certificates in %q", caCertFile)
		}
		loadedAny = true
	}

	if caCertDir != "" {
		entries, err := os.ReadDir(caCertDir)
		if err != nil {
			return nil, fmt.Errorf("pubnub: read CA cert dir %q: %w", caCertDir, err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if ext != ".pem" && ext != ".crt" {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(caCertDir, e.Name()))
			if err != nil {
				continue
			}
			if pool.AppendCertsFromPEM(pem) {
				loadedAny = true
			}
		}
	}

	if !loadedAny {
		return nil, fmt.Errorf("pubnub: no certificates loaded from %q / %q", caCertFile, caCertDir)
	}
	return pool, nil
}

// --- §6 PubNub REST operations ---

func (c *Context) Time(ctx context.Context) pnerror.Result {
	return c.execute(ctx, urlbuilder.Time(c.identity()))
}

func (c *Context) Publish(ctx context.Context, channel, message string) pnerror.Result {
	if channel == "" {
		c.lastResult = pnerror.InvalidChannel
		return c.lastResult
	}
	res := c.execute(ctx, urlbuilder.Publish(c.identity(), c.publishKey, c.subKey, channel, message))
	if res == pnerror.Ok {
		c.lastPublishResult = string(c.lastBody)
	}
	return res
}

func (c *Context) Signal(ctx context.Context, channel, message string) pnerror.Result {
	if channel == "" {
		c.lastResult = pnerror.InvalidChannel
		return c.lastResult
	}
	return c.execute(ctx, urlbuilder.Signal(c.identity(), c.publishKey, c.subKey, channel, message))
}

func (c *Context) Subscribe(ctx context.Context, channels, timetoken string) pnerror.Result {
	res := c.execute(ctx, urlbuilder.SubscribeV1(c.identity(), c.subKey, channels, timetoken))
	if res != pnerror.Ok {
		return res
	}
	env, err := parseSubscribeEnvelope(c.lastBody)
	if err != nil {
		c.lastResult = pnerror.FormatError
		return c.lastResult
	}
	c.lastTimeToken = env.Timetoken
	c.msgQueue, c.msgCursor = env.Messages, 0
	c.chQueue, c.chCursor = env.Channels, 0
	return res
}

// SubscribeV2 starts the long-poll subscribe event engine (§4.6) for
// channels/groups, delivering status and message events to the supplied
// callbacks until Cancel is called.
func (c *Context) SubscribeV2(ctx context.Context, channels, groups string, heartbeatPeriod time.Duration, onStatus func(subscribe.StatusEvent), onMessages func([]subscribe.MessageEvent)) {
	c.engine = subscribe.NewEngine(&subscribeTransport{ctx: c}, channels, groups, heartbeatPeriod)
	c.engine.EmitStatus = onStatus
	c.engine.EmitMessages = onMessages
	c.engine.Start(ctx)
}

func (c *Context) Leave(ctx context.Context, channels string) pnerror.Result {
	return c.execute(ctx, urlbuilder.Leave(c.identity(), c.subKey, channels))
}

func (c *Context) HereNow(ctx context.Context, channels string) pnerror.Result {
	return c.execute(ctx, urlbuilder.HereNow(c.identity(), c.subKey, channels))
}

func (c *Context) GlobalHereNow(ctx context.Context) pnerror.Result {
	return c.execute(ctx, urlbuilder.GlobalHereNow(c.identity(), c.subKey))
}

func (c *Context) WhereNow(ctx context.Context, uuid string) pnerror.Result {
	return c.execute(ctx, urlbuilder.WhereNow(c.identity(), c.subKey, uuid))
}

func (c *Context) SetState(ctx context.Context, channels, uuid, stateJSON string) pnerror.Result {
	return c.execute(ctx, urlbuilder.SetState(c.identity(), c.subKey, channels, uuid, stateJSON))
}

func (c *Context) StateGet(ctx context.Context, channels, uuid string) pnerror.Result {
	return c.execute(ctx, urlbuilder.StateGet(c.identity(), c.subKey, channels, uuid))
}

func (c *Context) Heartbeat(ctx context.Context, channels, groups string, heartbeatS int) pnerror.Result {
	return c.execute(ctx, urlbuilder.Heartbeat(c.identity(), c.subKey, channels, groups, heartbeatS))
}

func (c *Context) History(ctx context.Context, channel string, count int, includeToken bool) pnerror.Result {
	return c.execute(ctx, urlbuilder.History(c.identity(), c.subKey, channel, count, includeToken))
}

// FetchHistory is an alias for History kept distinct per §6's naming of the
// fetch-history operation separately from the legacy history endpoint; both
// share the same v2 history wire call in this client.
func (c *Context) FetchHistory(ctx context.Context, channel string, count int, includeToken bool) pnerror.Result {
	return c.History(ctx, channel, count, includeToken)
}

func (c *Context) MessageCounts(ctx context.Context, channels, timetoken, channelsTimetoken string) pnerror.Result {
	return c.execute(ctx, urlbuilder.MessageCounts(c.identity(), c.subKey, channels, timetoken, channelsTimetoken))
}

func (c *Context) AddChannelToGroup(ctx context.Context, group, channels string) pnerror.Result {
	return c.execute(ctx, urlbuilder.ChannelGroup(c.identity(), c.subKey, group, urlbuilder.ChannelGroupAdd, channels))
}

func (c *Context) RemoveChannelFromGroup(ctx context.Context, group, channels string) pnerror.Result {
	return c.execute(ctx, urlbuilder.ChannelGroup(c.identity(), c.subKey, group, urlbuilder.ChannelGroupRemove, channels))
}

func (c *Context) RemoveChannelGroup(ctx context.Context, group string) pnerror.Result {
	return c.execute(ctx, urlbuilder.ChannelGroup(c.identity(), c.subKey, group, urlbuilder.ChannelGroupDelete, ""))
}

func (c *Context) ListChannelGroup(ctx context.Context, group string) pnerror.Result {
	return c.execute(ctx, urlbuilder.ChannelGroup(c.identity(), c.subKey, group, urlbuilder.ChannelGroupList, ""))
}

// subscribeTransport adapts Context.execute to the subscribe.Transport
// interface so Engine can drive handshake/receive/heartbeat calls through
// the same transaction machinery as every other operation.
type subscribeTransport struct {
	ctx *Context
}

func (t *subscribeTransport) Handshake(ctx context.Context, channels, groups string) (subscribe.Cursor, []subscribe.MessageEvent, pnerror.Result) {
	return t.receiveAt(ctx, channels, groups, subscribe.Cursor{Timetoken: "0"})
}

func (t *subscribeTransport) Receive(ctx context.Context, channels, groups string, cur subscribe.Cursor) (subscribe.Cursor, []subscribe.MessageEvent, pnerror.Result) {
	return t.receiveAt(ctx, channels, groups, cur)
}

func (t *subscribeTransport) receiveAt(ctx context.Context, channels, groups string, cur subscribe.Cursor) (subscribe.Cursor, []subscribe.MessageEvent, pnerror.Result) {
	path := urlbuilder.SubscribeV2(t.ctx.identity(), t.ctx.subKey, channels, urlbuilder.SubscribeV2Params{
		Timetoken: cur.Timetoken,
		Region:    cur.Region,
	})
	res := t.ctx.execute(ctx, path)
	if res != pnerror.Ok {
		return cur, nil, res
	}

	env, err := parseSubscribeEnvelope(t.ctx.lastBody)
	if err != nil {
		t.ctx.lastResult = pnerror.FormatError
		return cur, nil, t.ctx.lastResult
	}

	next := subscribe.Cursor{Timetoken: env.Timetoken, Region: env.Region}
	if next.Region == "" {
		next.Region = cur.Region
	}

	t.ctx.msgQueue, t.ctx.msgCursor = env.Messages, 0
	t.ctx.chQueue, t.ctx.chCursor = env.Channels, 0

	msgs := make([]subscribe.MessageEvent, len(env.Messages))
	for i, payload := range env.Messages {
		ch := channels
		if i < len(env.Channels) {
			ch = env.Channels[i]
		}
		msgs[i] = subscribe.MessageEvent{Channel: ch, Payload: payload}
	}
	t.ctx.stats.IncrementMessagesReceived(len(msgs))
	return next, msgs, pnerror.Ok
}

func (t *subscribeTransport) Heartbeat(ctx context.Context, channels, groups string) pnerror.Result {
	return t.ctx.Heartbeat(ctx, channels, groups, 0)
}
