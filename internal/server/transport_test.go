package server

import (
	"context"
	"strings"
	"testing"
)

// stubConfig implements transportConfig for factory tests.
type stubConfig struct {
	transportType string
	port          int
	address       string
}

func (s *stubConfig) GetTransportType() string    { return s.transportType }
func (s *stubConfig) GetPort() int                { return s.port }
func (s *stubConfig) GetTransportAddress() string { return s.address }

// TestNewTransport verifies transport selection and validation
func TestNewTransport(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *stubConfig
		wantType  string
		wantErr   string
	}{
		{
			name:     "stdio",
			cfg:      &stubConfig{transportType: "stdio"},
			wantType: "stdio",
		},
		{
			name:     "sse with port",
			cfg:      &stubConfig{transportType: "sse", port: 8080, address: "localhost:8080"},
			wantType: "sse",
		},
		{
			name:    "sse without port",
			cfg:     &stubConfig{transportType: "sse"},
			wantErr: "port must be configured",
		},
		{
			name:     "streamablehttp with port",
			cfg:      &stubConfig{transportType: "streamablehttp", port: 9090, address: "localhost:9090"},
			wantType: "streamablehttp",
		},
		{
			name:    "streamablehttp without port",
			cfg:     &stubConfig{transportType: "streamablehttp"},
			wantErr: "port must be configured",
		},
		{
			name:    "unknown transport",
			cfg:     &stubConfig{transportType: "grpc", port: 8080},
			wantErr: "unsupported transport type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := NewTransport(tt.cfg, nil)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if transport.Type() != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, transport.Type())
			}
		})
	}
}

// TestStdioShutdownIsNoop verifies stdio shutdown never fails
func TestStdioShutdownIsNoop(t *testing.T) {
	transport := &StdioTransport{}
	if err := transport.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil from stdio Shutdown, got %v", err)
	}
}

// TestNetworkShutdownBeforeStart verifies shutting down an unstarted network
// transport is safe
func TestNetworkShutdownBeforeStart(t *testing.T) {
	if err := (&SSETransport{}).Shutdown(context.Background()); err != nil {
		t.Errorf("SSE Shutdown before Start failed: %v", err)
	}
	if err := (&StreamableHTTPTransport{}).Shutdown(context.Background()); err != nil {
		t.Errorf("StreamableHTTP Shutdown before Start failed: %v", err)
	}
}
