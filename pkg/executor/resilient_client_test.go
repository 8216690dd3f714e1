package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestNewResilienceConfig(t *testing.T) {
	rc := NewResilienceConfig("node-a", DefaultResilienceOptions())
	assert.Equal(t, "ssh-node-a", rc.CircuitBreakerSettings.Name)
	assert.Equal(t, gobreaker.StateClosed, rc.CircuitBreaker.State())

	trip := rc.CircuitBreakerSettings.ReadyToTrip
	assert.False(t, trip(gobreaker.Counts{ConsecutiveFailures: 5}))
	assert.True(t, trip(gobreaker.Counts{ConsecutiveFailures: 6}))
}

func TestBackOffIsFreshPerCall(t *testing.T) {
	rc := NewResilienceConfig("node-a", DefaultResilienceOptions())
	first := rc.backOff(context.Background()).NextBackOff()
	second := rc.backOff(context.Background()).NextBackOff()
	// both start from the initial interval with jitter of at most 50%
	assert.LessOrEqual(t, first, 750*time.Millisecond)
	assert.LessOrEqual(t, second, 750*time.Millisecond)
}

func TestNewResilientClientDialFailure(t *testing.T) {
	opts := ResilienceOptions{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsedTime:  10 * time.Millisecond,
		BreakerFailures: 1,
	}
	cfg := &ssh.ClientConfig{User: "casper", HostKeyCallback: ssh.InsecureIgnoreHostKey(), Timeout: 50 * time.Millisecond}
	_, err := NewResilientClient(context.Background(), "127.0.0.1:1", cfg, NewResilienceConfig("nowhere", opts))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dial 127.0.0.1:1")
}

func TestPublicKeyAuth(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	auth, err := PublicKeyAuth(path)
	require.NoError(t, err)
	assert.NotNil(t, auth)

	_, err = PublicKeyAuth(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
