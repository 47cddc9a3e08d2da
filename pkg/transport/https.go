// Package transport carries AS4 messages over HTTPS with TLS 1.2/1.3.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// maxRequestSize bounds inbound message bodies.
const maxRequestSize = 512 << 20

// RecommendedTLS12CipherSuites lists the TLS 1.2 suites accepted for
// AS4 exchanges.
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig contains HTTPS client/server configuration.
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
}

// DefaultHTTPSConfig returns the default HTTPS configuration.
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

// HTTPSClient posts AS4 messages to remote access points.
type HTTPSClient struct {
	client *http.Client
	config *HTTPSConfig
}

// NewHTTPSClient creates a new HTTPS client.
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		RootCAs:      config.RootCAs,
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &HTTPSClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
	}
}

// Send posts an AS4 message to the endpoint and returns the response
// body. A non-200 status is an error.
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, message []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "phase4/1.0")
	req.Header.Set("SOAPAction", "") // Empty for AS4

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return responseBody, nil
}

// MessageHandler processes inbound AS4 messages. The content type is
// needed to distinguish plain SOAP from MIME multipart bodies, and the
// returned content type labels the signal response.
type MessageHandler interface {
	HandleMessage(ctx context.Context, body []byte, contentType string) (response []byte, responseContentType string, err error)
}

// HTTPSServer receives AS4 messages over HTTPS.
type HTTPSServer struct {
	server  *http.Server
	config  *HTTPSConfig
	handler MessageHandler
	logger  *slog.Logger
}

// NewHTTPSServer creates a new HTTPS server listening on addr. The
// message endpoint is /as4.
func NewHTTPSServer(addr string, config *HTTPSConfig, handler MessageHandler, logger *slog.Logger) *HTTPSServer {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		ClientCAs:    config.ClientCAs,
		ClientAuth:   config.ClientAuth,
	}

	s := &HTTPSServer{
		config:  config,
		handler: handler,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/as4", s.handleAS4)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		IdleTimeout:  config.IdleConnTimeout,
	}

	return s
}

// Handler returns the server's HTTP handler, for use with httptest or
// an external listener.
func (s *HTTPSServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPSServer) handleAS4(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response, responseContentType, err := s.handler.HandleMessage(r.Context(), body, r.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Error("message processing failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, fmt.Sprintf("Failed to process message: %v", err), http.StatusInternalServerError)
		return
	}

	if responseContentType == "" {
		responseContentType = "application/soap+xml; charset=utf-8"
	}
	w.Header().Set("Content-Type", responseContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

// Start begins serving TLS connections. It blocks until the server
// stops.
func (s *HTTPSServer) Start() error {
	if len(s.config.Certificates) == 0 {
		return fmt.Errorf("no TLS certificates configured")
	}
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *HTTPSServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
