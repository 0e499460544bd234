package sshc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostSpec_Validate(t *testing.T) {
	t.Parallel()

	require.EqualError(t, HostSpec{User: "ubuntu"}.Validate(), "host addr and user required")
	require.EqualError(t, HostSpec{Addr: "10.0.0.2", User: "ubuntu"}.Validate(), "no auth methods provided")
	require.NoError(t, HostSpec{Addr: "10.0.0.2", User: "ubuntu", Password: "pw"}.Validate())

	err := HostSpec{Addr: "10.0.0.2", User: "ubuntu", PrivateKey: []byte("not a key")}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse private key")
}

func TestHostSpec_Address(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10.0.0.2:22", HostSpec{Addr: "10.0.0.2"}.address())
	assert.Equal(t, "10.0.0.2:2222", HostSpec{Addr: "10.0.0.2:2222"}.address())
}

func TestDial_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, HostSpec{Addr: "127.0.0.1:1", User: "ubuntu", Password: "pw"})
	require.Error(t, err)

	_, err = Run(ctx, HostSpec{Addr: "127.0.0.1:1", User: "ubuntu"}, "true")
	require.EqualError(t, err, "no auth methods provided")
}
