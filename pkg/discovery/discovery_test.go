package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestServer() *Server {
	cfg := DefaultConfig()
	cfg.DeviceName = "Living Room"
	cfg.PairingSecret = []byte("1234")
	return NewServer(cfg)
}

func TestGetInfo(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/?action=getInfo", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var reply infoReply
	err := json.Unmarshal(w.Body.Bytes(), &reply)
	assert.NoError(t, err)
	assert.Equal(t, "Living Room", reply.DeviceName)
	assert.NotEmpty(t, reply.DeviceID)
}

func TestGetInfoUnknownAction(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/?action=bogus", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddUserDeliversCredentials(t *testing.T) {
	server := newTestServer()
	token := []byte("reusable-token-bytes")

	blob, err := SealCredentials(server.cfg.DeviceID, []byte("1234"), token)
	assert.NoError(t, err)

	body, _ := json.Marshal(addUserRequest{Username: "listener", Blob: blob})
	req := httptest.NewRequest("POST", "/?action=addUser", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	done := make(chan Credentials, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		creds, err := server.Await(ctx)
		if err == nil {
			done <- creds
		}
	}()

	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case creds := <-done:
		assert.Equal(t, "listener", creds.Username)
		assert.Equal(t, token, creds.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("credentials never delivered")
	}
}

func TestAddUserWrongSecretRejected(t *testing.T) {
	server := newTestServer()

	blob, err := SealCredentials(server.cfg.DeviceID, []byte("9999"), []byte("token"))
	assert.NoError(t, err)

	body, _ := json.Marshal(addUserRequest{Username: "listener", Blob: blob})
	req := httptest.NewRequest("POST", "/?action=addUser", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSecondPairingRefused(t *testing.T) {
	server := newTestServer()

	post := func() *httptest.ResponseRecorder {
		blob, err := SealCredentials(server.cfg.DeviceID, []byte("1234"), []byte("token"))
		assert.NoError(t, err)
		body, _ := json.Marshal(addUserRequest{Username: "listener", Blob: blob})
		req := httptest.NewRequest("POST", "/?action=addUser", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, post().Code)
	assert.Equal(t, http.StatusConflict, post().Code)
}

func TestAddUserMissingFields(t *testing.T) {
	server := newTestServer()

	body, _ := json.Marshal(map[string]string{"userName": "listener"})
	req := httptest.NewRequest("POST", "/?action=addUser", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
