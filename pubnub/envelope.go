package pubnub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// subscribeEnvelope is the parsed shape of a v1 or v2 subscribe response
// (§6): `[[msg,msg,...], "timetoken", "channels"?]`. Both subscribe endpoints
// share this wire format, so Subscribe and subscribeTransport.receiveAt
// parse through the same function instead of duplicating the decode.
type subscribeEnvelope struct {
	Messages  [][]byte
	Timetoken string
	Region    string
	Channels  []string
}

// parseSubscribeEnvelope decodes body per the contract above. A body that is
// not a JSON array, or whose first element is not an array of messages, or
// whose second element is not a quoted timetoken, is a format violation
// (§7 FormatError) rather than an I/O failure.
func parseSubscribeEnvelope(body []byte) (subscribeEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return subscribeEnvelope{}, fmt.Errorf("pubnub: subscribe envelope is not a JSON array")
	}

	var top []json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return subscribeEnvelope{}, fmt.Errorf("pubnub: decode subscribe envelope: %w", err)
	}
	if len(top) < 2 {
		return subscribeEnvelope{}, fmt.Errorf("pubnub: subscribe envelope has %d elements, want at least 2", len(top))
	}

	var rawMsgs []json.RawMessage
	if err := json.Unmarshal(top[0], &rawMsgs); err != nil {
		return subscribeEnvelope{}, fmt.Errorf("pubnub: decode message list: %w", err)
	}
	messages := make([][]byte, len(rawMsgs))
	for i, m := range rawMsgs {
		messages[i] = []byte(m)
	}

	var ttRaw string
	if err := json.Unmarshal(top[1], &ttRaw); err != nil {
		return subscribeEnvelope{}, fmt.Errorf("pubnub: decode timetoken: %w", err)
	}
	timetoken, region := ttRaw, ""
	if idx := strings.IndexByte(ttRaw, ','); idx >= 0 {
		timetoken, region = ttRaw[:idx], ttRaw[idx+1:]
	}

	var channels []string
	if len(top) >= 3 {
		var chRaw string
		if err := json.Unmarshal(top[2], &chRaw); err == nil && chRaw != "" {
			channels = strings.Split(chRaw, ",")
		}
	}

	return subscribeEnvelope{Messages: messages, Timetoken: timetoken, Region: region, Channels: channels}, nil
}

// historyEnvelope is the parsed shape of the include_token history response
// (§6): `[[msg,msg,...], "firstTimetoken", "lastTimetoken"]`. It reuses the
// same array-of-(list,string,string) shape as subscribeEnvelope but the two
// trailing strings mean something different here, so it gets its own type
// rather than overloading subscribeEnvelope's field names.
type historyEnvelope struct {
	Messages       [][]byte
	FirstTimetoken string
	LastTimetoken  string
}

func parseHistoryEnvelope(body []byte) (historyEnvelope, error) {
	env, err := parseSubscribeEnvelope(body)
	if err != nil {
		return historyEnvelope{}, err
	}
	return historyEnvelope{
		Messages:       env.Messages,
		FirstTimetoken: env.Timetoken,
		LastTimetoken:  strings.Join(env.Channels, ","),
	}, nil
}
