package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/whatsgate/pkg/bus"
)

type fakeMessenger struct {
	ready   bool
	id      string
	sendErr error
	info    map[string]interface{}
	qr      string

	lastTo, lastMessage string
}

func (f *fakeMessenger) SendText(_ context.Context, to, message string) (string, error) {
	f.lastTo, f.lastMessage = to, message
	return f.id, f.sendErr
}

func (f *fakeMessenger) IsReady() bool                { return f.ready }
func (f *fakeMessenger) Info() map[string]interface{} { return f.info }
func (f *fakeMessenger) QR() string                   { return f.qr }

type notifyCall struct {
	to, correlationID, callbackURL string
	timeout                        time.Duration
}

type fakeCorrelator struct {
	notifies []notifyCall
	waitEv   *bus.InboundEvent
	waitErr  error
	lastWait notifyCall
}

func (f *fakeCorrelator) WaitForReply(_ context.Context, to, correlationID, callbackURL string, timeout time.Duration) (*bus.InboundEvent, error) {
	f.lastWait = notifyCall{to, correlationID, callbackURL, timeout}
	return f.waitEv, f.waitErr
}

func (f *fakeCorrelator) NotifyReply(to, correlationID, callbackURL string, timeout time.Duration) {
	f.notifies = append(f.notifies, notifyCall{to, correlationID, callbackURL, timeout})
}

func postSend(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleSend(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHandleSendValidatesBody(t *testing.T) {
	h := NewHandler(&fakeMessenger{ready: true}, &fakeCorrelator{})

	tests := []struct {
		name string
		body string
	}{
		{"missing to", `{"message":"hi"}`},
		{"missing message", `{"to":"15551230000"}`},
		{"blank to", `{"to":"  ","message":"hi"}`},
		{"not json", `to=x`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postSend(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec), "error")
		})
	}
}

func TestHandleSendRequiresReadyClient(t *testing.T) {
	h := NewHandler(&fakeMessenger{ready: false}, &fakeCorrelator{})

	rec := postSend(t, h, `{"to":"15551230000","message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSendAcksWithMessageID(t *testing.T) {
	m := &fakeMessenger{ready: true, id: "ABCD1234"}
	c := &fakeCorrelator{}
	h := NewHandler(m, c)

	rec := postSend(t, h, `{"to":"15551230000","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "ABCD1234", resp["id"])
	assert.Equal(t, "15551230000", m.lastTo)
	assert.Empty(t, c.notifies, "no expectation without a callback")
}

func TestHandleSendRegistersWebhookWait(t *testing.T) {
	m := &fakeMessenger{ready: true, id: "MSGID"}
	c := &fakeCorrelator{}
	h := NewHandler(m, c)

	rec := postSend(t, h, `{"to":"15551230000","message":"hi","callbackUrl":"http://example.com/hook","timeout":"500"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, c.notifies, 1)
	n := c.notifies[0]
	assert.Equal(t, "15551230000", n.to)
	assert.Equal(t, "MSGID", n.correlationID)
	assert.Equal(t, "http://example.com/hook", n.callbackURL)
	assert.Equal(t, 500*time.Millisecond, n.timeout)
}

func TestHandleSendCallbackAlias(t *testing.T) {
	c := &fakeCorrelator{}
	h := NewHandler(&fakeMessenger{ready: true, id: "MSGID"}, c)

	postSend(t, h, `{"to":"1","message":"hi","callback":"http://alias.example/hook"}`)
	require.Len(t, c.notifies, 1)
	assert.Equal(t, "http://alias.example/hook", c.notifies[0].callbackURL)

	// callbackUrl wins when both are present.
	postSend(t, h, `{"to":"1","message":"hi","callbackUrl":"http://primary.example/hook","callback":"http://alias.example/hook"}`)
	require.Len(t, c.notifies, 2)
	assert.Equal(t, "http://primary.example/hook", c.notifies[1].callbackURL)
}

func TestHandleSendWaitReturnsReply(t *testing.T) {
	c := &fakeCorrelator{waitEv: &bus.InboundEvent{Body: "hello back"}}
	h := NewHandler(&fakeMessenger{ready: true, id: "MSGID"}, c)

	rec := postSend(t, h, `{"to":"15551230000","message":"hi","wait":true,"timeout":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, "hello back", resp["reply"])
	assert.Equal(t, "MSGID", c.lastWait.correlationID)
	assert.Equal(t, time.Second, c.lastWait.timeout)
}

func TestHandleSendWaitTimeoutYieldsNullReply(t *testing.T) {
	c := &fakeCorrelator{waitEv: nil}
	h := NewHandler(&fakeMessenger{ready: true, id: "MSGID"}, c)

	rec := postSend(t, h, `{"to":"15551230000","message":"hi","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	v, present := resp["reply"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestHandleStatusAndConnected(t *testing.T) {
	info := map[string]interface{}{"pushname": "gateway"}
	h := NewHandler(&fakeMessenger{ready: true, info: info}, &fakeCorrelator{})

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, true, decode(t, rec)["ready"])

	rec = httptest.NewRecorder()
	h.HandleConnected(rec, httptest.NewRequest(http.MethodGet, "/connected", nil))
	resp := decode(t, rec)
	assert.Equal(t, true, resp["connected"])
	assert.Equal(t, "gateway", resp["info"].(map[string]interface{})["pushname"])
}

func TestHandleConnectedNullInfo(t *testing.T) {
	h := NewHandler(&fakeMessenger{}, &fakeCorrelator{})

	rec := httptest.NewRecorder()
	h.HandleConnected(rec, httptest.NewRequest(http.MethodGet, "/connected", nil))
	resp := decode(t, rec)
	v, present := resp["info"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestHandleQR(t *testing.T) {
	h := NewHandler(&fakeMessenger{qr: "QRDATA"}, &fakeCorrelator{})
	rec := httptest.NewRecorder()
	h.HandleQR(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "QRDATA", decode(t, rec)["qr"])

	h = NewHandler(&fakeMessenger{}, &fakeCorrelator{})
	rec = httptest.NewRecorder()
	h.HandleQR(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
