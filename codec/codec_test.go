package codec

import (
	"errors"
	"strings"
	"testing"

	"mailrpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, id uint64, args ...any) *message.Request {
	t.Helper()
	msg, err := message.New("user", "area", "arith", "add", args...)
	require.NoError(t, err)
	return &message.Request{ID: id, Msg: msg}
}

func TestFramerSingleRequest(t *testing.T) {
	f := NewFramer(&JSONCodec{}, nil)

	data, binary, err := f.Marshal(newRequest(t, 1, 1, 2))
	require.NoError(t, err)
	assert.False(t, binary)
	assert.True(t, strings.HasPrefix(string(data), `{"body":{`))

	reqs, err := f.UnmarshalRequests(data, binary)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(1), reqs[0].ID)
	assert.Equal(t, "arith", reqs[0].Msg.Service)

	var a, b int
	require.NoError(t, message.Bind(reqs[0].Msg.Args, &a, &b))
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestFramerBatch(t *testing.T) {
	f := NewFramer(nil, nil)
	batch := []*message.Request{newRequest(t, 1, "a"), newRequest(t, 2, "b"), newRequest(t, 3, "c")}

	data, _, err := f.Marshal(batch)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"body":[`))

	reqs, err := f.UnmarshalRequests(data, false)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	for i, r := range reqs {
		assert.Equal(t, uint64(i+1), r.ID)
	}
}

func TestFramerCompressesAboveThreshold(t *testing.T) {
	f := NewFramer(nil, NewCompressor(64))

	small, binary, err := f.Marshal(newRequest(t, 1, "x"))
	require.NoError(t, err)
	assert.False(t, binary, "payload under threshold must stay text: %s", small)

	big := newRequest(t, 2, strings.Repeat("payload-", 200))
	data, binary, err := f.Marshal(big)
	require.NoError(t, err)
	require.True(t, binary)
	assert.Less(t, len(data), 1600)

	reqs, err := f.UnmarshalRequests(data, true)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	var s string
	require.NoError(t, message.Bind(reqs[0].Msg.Args, &s))
	assert.Equal(t, strings.Repeat("payload-", 200), s)
}

func TestResponseRoundTripKeepsErrorFields(t *testing.T) {
	f := NewFramer(nil, nil)
	resp, err := message.EncodeResults(errors.New("not found"), "ignored", 3.5)
	require.NoError(t, err)

	data, binary, err := f.Marshal(&message.Response{ID: 9, Resp: resp})
	require.NoError(t, err)

	out, err := f.UnmarshalResponses(data, binary)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(9), out[0].ID)

	reply := message.Reply(out[0].Resp)
	var we *message.WireError
	require.ErrorAs(t, reply.Err(), &we)
	assert.Equal(t, "not found", we.Msg)
	assert.Equal(t, "not found", we.Stack)

	var s string
	var n float64
	require.NoError(t, message.Bind(reply[1:], &s, &n))
	assert.Equal(t, "ignored", s)
	assert.Equal(t, 3.5, n)
}

func TestTrimTrailing(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(TrimTrailing([]byte(`{"a":1}`))))
	assert.Equal(t, `{"a":1}`, string(TrimTrailing([]byte("{\"a\":1}\n"))))
	assert.Equal(t, `{"a":1}`, string(TrimTrailing([]byte("{\"a\":1}\x00"))))
	assert.Equal(t, "{\"a\":1}\n", string(TrimTrailing([]byte("{\"a\":1}\n\n"))))
	assert.Empty(t, TrimTrailing(nil))
}

func TestUnmarshalToleratesOneTrailingByte(t *testing.T) {
	f := NewFramer(nil, nil)
	data, _, err := f.Marshal(newRequest(t, 4, "x"))
	require.NoError(t, err)

	reqs, err := f.UnmarshalRequests(append(data, 0x00), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reqs[0].ID)
}

func TestUnmarshalMalformed(t *testing.T) {
	f := NewFramer(nil, nil)

	_, err := f.UnmarshalRequests([]byte(`{"body":`), false)
	assert.Error(t, err)

	_, err = f.UnmarshalRequests([]byte(`{"other":1}`), false)
	assert.Error(t, err)

	_, err = f.UnmarshalRequests([]byte("not gzip"), true)
	assert.Error(t, err)
}

func TestJSONCodecKeepsHTMLLiteral(t *testing.T) {
	data, err := (&JSONCodec{}).Encode(map[string]string{"q": "a<b && c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b && c>d"}`, string(data))
}
