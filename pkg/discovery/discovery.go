// Package discovery provides local-network pairing: a small HTTP endpoint
// through which an already-authenticated device hands its credentials to
// this one as a sealed blob.
package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CadenzaCast/cadenza-client/pkg/crypto"
)

// Config holds discovery server configuration.
type Config struct {
	Port       int
	DeviceName string
	DeviceID   string

	// PairingSecret is the shared secret the peer used to seal the
	// credential blob, typically a short code shown to the user.
	PairingSecret []byte

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default discovery configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         5439,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Credentials is the pairing result delivered to the waiting client.
type Credentials struct {
	Username string
	Token    []byte
}

// Server answers getInfo and addUser requests from peers on the local
// network. Exactly one successful addUser is delivered; later attempts
// are refused.
type Server struct {
	cfg        *Config
	router     *gin.Engine
	httpServer *http.Server

	mu       sync.Mutex
	paired   bool
	delivery chan Credentials
}

type infoReply struct {
	Status     int    `json:"status"`
	DeviceID   string `json:"deviceID"`
	DeviceName string `json:"remoteName"`
	DeviceType string `json:"deviceType"`
	Version    string `json:"version"`
}

type addUserRequest struct {
	Username string `json:"userName" binding:"required"`
	Blob     string `json:"blob" binding:"required"`
}

// NewServer creates a discovery server. It does not listen until Start.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = crypto.DeviceID(cfg.DeviceName)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		router:   router,
		delivery: make(chan Credentials, 1),
	}

	router.GET("/", s.handleGetInfo)
	router.POST("/", s.handleAddUser)

	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// delivery stays open; the waiting client times out instead
			log.Printf("Discovery server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Await blocks until a peer completes pairing or ctx ends.
func (s *Server) Await(ctx context.Context) (Credentials, error) {
	select {
	case creds := <-s.delivery:
		return creds, nil
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

func (s *Server) handleGetInfo(c *gin.Context) {
	if c.Query("action") != "getInfo" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}

	c.JSON(http.StatusOK, infoReply{
		Status:     101,
		DeviceID:   s.cfg.DeviceID,
		DeviceName: s.cfg.DeviceName,
		DeviceType: "player",
		Version:    "1.0",
	})
}

func (s *Server) handleAddUser(c *gin.Context) {
	if c.Query("action") != "addUser" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}

	var req addUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userName or blob"})
		return
	}

	blob, err := base64.StdEncoding.DecodeString(req.Blob)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "blob is not valid base64"})
		return
	}

	key := crypto.DeriveBlobKey(s.cfg.DeviceID, s.cfg.PairingSecret)
	token, err := crypto.OpenBlob(key, blob)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "blob rejected"})
		return
	}

	s.mu.Lock()
	if s.paired {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "device already paired"})
		return
	}
	s.paired = true
	s.mu.Unlock()

	s.delivery <- Credentials{Username: req.Username, Token: token}
	c.JSON(http.StatusOK, gin.H{"status": 101})
}

// SealCredentials builds the blob a peer would post to addUser. The
// client side of pairing uses it when this device hands credentials out.
func SealCredentials(deviceID string, pairingSecret, token []byte) (string, error) {
	key := crypto.DeriveBlobKey(deviceID, pairingSecret)
	blob, err := crypto.SealBlob(key, token)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
