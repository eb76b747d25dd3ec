// Package urlbuilder assembles REST paths and query strings for every
// PubNub-protocol endpoint in §6, percent-encoding caller-supplied values
// per §4.1 and the round-trip law of §8 ("URL-encode -> URL-decode of any
// ASCII-printable byte sequence is identity").
package urlbuilder

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// unreserved is the RFC 3986 URL-unreserved byte set; every other byte is
// percent-encoded, so '%' itself is never produced unescaped and
// double-encoding never happens (a literal '%' in the input is always
// escaped to %25, never passed through).
func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

const hexDigits = "0123456789ABCDEF"

// PercentEncode escapes every byte of s outside the URL-unreserved set.
// Commas are NOT treated as unreserved here; callers that need literal
// commas preserved in multi-channel lists use EncodeChannelList instead.
func PercentEncode(s string) string {
	var needsEscape bool
	for i := 0; i < len(s); i++ {
		if !isUnreserved(s[i]) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// EncodeChannelList percent-encodes each comma-separated element of a
// channel/group list while keeping the separating commas literal, per §6
// ("commas kept literal for multi-channel lists").
func EncodeChannelList(list string) string {
	if list == "" {
		return list
	}
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = PercentEncode(p)
	}
	return strings.Join(parts, ",")
}

// Param is one query-string key/value pair. A slice of Param (rather than
// url.Values, which is an unordered map) keeps parameter emission order
// deterministic, matching the request templates documented in §6.
type Param struct {
	Key   string
	Value string
}

// BuildQuery renders params into a leading-`?` query string, percent
// encoding every value. Params with an empty Value are skipped (so an
// absent "auth" or "uuid" simply does not appear).
func BuildQuery(params []Param) string {
	var b strings.Builder
	first := true
	for _, p := range params {
		if p.Value == "" {
			continue
		}
		if first {
			b.WriteByte('?')
			first = false
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(PercentEncode(p.Value))
	}
	return b.String()
}

// AppendQuery appends more params to an already-built query string (using
// '&' if q is non-empty, '?' if q is empty), again skipping empty values.
func AppendQuery(q string, params ...Param) string {
	extra := BuildQuery(params)
	if extra == "" {
		return q
	}
	if q == "" {
		return extra
	}
	return q + "&" + extra[1:]
}

// Identity carries the SDK-identity and optional uuid/auth values common to
// every request (§4.1: "a single pnsdk parameter is always appended ...
// uuid and auth parameters are added when set").
type Identity struct {
	SDKName    string
	SDKVersion string
	UUID       string
	Auth       string
}

func (id Identity) pnsdk() string {
	name := id.SDKName
	if name == "" {
		name = "pncore-go"
	}
	ver := id.SDKVersion
	if ver == "" {
		ver = "0"
	}
	return name + "-" + ver
}

// commonParams returns the pnsdk/uuid/auth triple in the canonical order
// used across every endpoint.
func (id Identity) commonParams() []Param {
	return []Param{
		{Key: "pnsdk", Value: id.pnsdk()},
		{Key: "uuid", Value: id.UUID},
		{Key: "auth", Value: id.Auth},
	}
}

// ValidateOrigin checks that origin is a syntactically valid (possibly
// internationalised) hostname, converting it to its ASCII/punycode form.
// Returns an error for empty or malformed hostnames before any DNS lookup
// is attempted.
func ValidateOrigin(origin string) (string, error) {
	if origin == "" {
		return "", errors.New("urlbuilder: origin must not be empty")
	}
	return idna.Lookup.ToASCII(origin)
}

// Time builds the §6 "time" endpoint: GET /time/0?pnsdk=...&uuid=...
func Time(id Identity) string {
	return "/time/0" + BuildQuery(id.commonParams())
}

// Publish builds the §6 "publish" endpoint path. message must already be a
// JSON-encoded payload (the caller, not the URL builder, owns JSON
// encoding per §1's scope note that full JSON parsing/encoding is external
// to the core's hardest engineering problems — but percent-encoding the
// resulting bytes is squarely this package's job).
func Publish(id Identity, pubKey, subKey, channel, message string) string {
	path := "/publish/" + PercentEncode(pubKey) + "/" + PercentEncode(subKey) +
		"/0/" + PercentEncode(channel) + "/0/" + PercentEncode(message)
	return path + BuildQuery(id.commonParams())
}

// Signal builds the §6 "signal" endpoint path.
func Signal(id Identity, pubKey, subKey, channel, message string) string {
	path := "/signal/" + PercentEncode(pubKey) + "/" + PercentEncode(subKey) +
		"/0/" + PercentEncode(channel) + "/0/" + PercentEncode(message)
	return path + BuildQuery(id.commonParams())
}

// SubscribeV1 builds the legacy §6 "subscribe (v1)" endpoint path.
func SubscribeV1(id Identity, subKey, channels, timetoken string) string {
	path := "/subscribe/" + PercentEncode(subKey) + "/" + EncodeChannelList(channels) +
		"/0/" + PercentEncode(timetoken)
	return path + BuildQuery(id.commonParams())
}

// SubscribeV2Params carries the extra cursor/filter/heartbeat state used by
// the v2 subscribe endpoint (§4.6).
type SubscribeV2Params struct {
	Timetoken   string
	Region      string
	FilterExpr  string
	HeartbeatS  int
}

// SubscribeV2 builds the §6 "subscribe v2" endpoint path.
func SubscribeV2(id Identity, subKey, channels string, p SubscribeV2Params) string {
	path := "/v2/subscribe/" + PercentEncode(subKey) + "/" + EncodeChannelList(channels) + "/0"
	q := BuildQuery([]Param{
		{Key: "tt", Value: orDefault(p.Timetoken, "0")},
		{Key: "tr", Value: p.Region},
		{Key: "filter-expr", Value: p.FilterExpr},
	})
	if p.HeartbeatS > 0 {
		q = AppendQuery(q, Param{Key: "heartbeat", Value: strconv.Itoa(p.HeartbeatS)})
	}
	q = appendIdentity(q, id)
	return path + q
}

// Leave builds the §6 "leave" endpoint path.
func Leave(id Identity, subKey, channels string) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey) + "/channel/" + EncodeChannelList(channels) + "/leave"
	return path + BuildQuery(id.commonParams())
}

// HereNow builds the §6 "here-now" endpoint path.
func HereNow(id Identity, subKey, channels string) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey) + "/channel/" + EncodeChannelList(channels)
	return path + BuildQuery(id.commonParams())
}

// GlobalHereNow builds the §6 "global here-now" endpoint path.
func GlobalHereNow(id Identity, subKey string) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey)
	return path + BuildQuery(id.commonParams())
}

// WhereNow builds the §6 "where-now" endpoint path.
func WhereNow(id Identity, subKey, uuid string) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey) + "/uuid/" + PercentEncode(uuid)
	return path + BuildQuery(id.commonParams())
}

// SetState builds the §6 "set-state" endpoint path. stateJSON is the
// already-encoded JSON object to set.
func SetState(id Identity, subKey, channels, uuid, stateJSON string) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey) + "/channel/" + EncodeChannelList(channels) +
		"/uuid/" + PercentEncode(uuid) + "/data"
	q := BuildQuery([]Param{{Key: "state", Value: stateJSON}})
	q = appendIdentity(q, id)
	return path + q
}

// StateGet builds the §6 "state-get" endpoint path.
func StateGet(id Identity, subKey, channels, uuid string) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey) + "/channel/" + EncodeChannelList(channels) +
		"/uuid/" + PercentEncode(uuid)
	return path + BuildQuery(id.commonParams())
}

// Heartbeat builds the §6 "heartbeat" endpoint path.
func Heartbeat(id Identity, subKey, channels, groups string, heartbeatS int) string {
	path := "/v2/presence/sub-key/" + PercentEncode(subKey) + "/channel/" + EncodeChannelList(channels) + "/heartbeat"
	q := BuildQuery([]Param{{Key: "channel-group", Value: groups}})
	if heartbeatS > 0 {
		q = AppendQuery(q, Param{Key: "heartbeat", Value: strconv.Itoa(heartbeatS)})
	}
	q = appendIdentity(q, id)
	return path + q
}

// History builds the §6 "history" endpoint path.
func History(id Identity, subKey, channel string, count int, includeToken bool) string {
	path := "/v2/history/sub-key/" + PercentEncode(subKey) + "/channel/" + PercentEncode(channel)
	q := BuildQuery([]Param{
		{Key: "count", Value: strconv.Itoa(count)},
		{Key: "include_token", Value: strconv.FormatBool(includeToken)},
	})
	q = appendIdentity(q, id)
	return path + q
}

// MessageCounts builds the §6 "message-counts" endpoint path. Exactly one
// of timetoken or channelsTimetoken should be non-empty, per §6's "or"
// relationship between the two query forms.
func MessageCounts(id Identity, subKey, channels, timetoken, channelsTimetoken string) string {
	path := "/v3/history/sub-key/" + PercentEncode(subKey) + "/message-counts/" + EncodeChannelList(channels)
	q := BuildQuery([]Param{
		{Key: "timetoken", Value: timetoken},
		{Key: "channelsTimetoken", Value: channelsTimetoken},
	})
	q = appendIdentity(q, id)
	return path + q
}

// ChannelGroupOp selects which of the four channel-group admin operations
// ChannelGroup builds.
type ChannelGroupOp int

const (
	ChannelGroupAdd ChannelGroupOp = iota
	ChannelGroupRemove
	ChannelGroupDelete
	ChannelGroupList
)

// ChannelGroup builds one of the §6 channel-group administration paths.
func ChannelGroup(id Identity, subKey, group string, op ChannelGroupOp, channels string) string {
	base := "/v1/channel-registration/sub-key/" + PercentEncode(subKey) + "/channel-group/" + PercentEncode(group)
	var path, key string
	switch op {
	case ChannelGroupAdd:
		path = base
		key = "add"
	case ChannelGroupRemove:
		path = base
		key = "remove"
	case ChannelGroupDelete:
		path = base + "/remove"
	case ChannelGroupList:
		path = base
	}
	// The channel list is encoded element by element with its commas kept
	// literal, so it is not passed through BuildQuery a second time.
	q := ""
	if key != "" && channels != "" {
		q = "?" + key + "=" + EncodeChannelList(channels)
	}
	q = appendIdentity(q, id)
	return path + q
}

func appendIdentity(q string, id Identity) string {
	return AppendQuery(q, id.commonParams()...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
