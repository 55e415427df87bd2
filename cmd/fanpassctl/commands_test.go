package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/FanPass/internal/pkg/bootstrap"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/reconcile"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscriber"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
	"github.com/ManuelReschke/FanPass/internal/pkg/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useTestServices(t *testing.T) {
	t.Helper()
	db := testutil.NewDB(t)
	store := subscription.NewStore(subscription.NewRepository(db))
	dir := subscriber.NewDirectory(db, nil, 0)
	gw := &gateway.Client{}
	svc := &bootstrap.Services{
		Gateway:   gw,
		Store:     store,
		Directory: dir,
		Engine:    reconcile.New(store, gw, reconcile.WithProfiles(dir)),
	}

	orig := setupServices
	setupServices = func(context.Context) *bootstrap.Services { return svc }
	t.Cleanup(func() { setupServices = orig })
}

func TestPlansCommand(t *testing.T) {
	out, err := run(t, "plans")
	require.NoError(t, err)
	assert.Contains(t, out, "monthly")
	assert.Contains(t, out, "BRL 899.00")
	assert.Equal(t, 4, len(strings.Split(strings.TrimSpace(out), "\n")))
}

func TestSignCommand(t *testing.T) {
	out, err := run(t, "sign", "PAY1", "--secret", "whsec", "--request-id", "req-1", "--ts", "1700000000")
	require.NoError(t, err)

	header := strings.TrimSpace(out)
	assert.True(t, gateway.VerifyWebhookSignature(header, "req-1", "PAY1", "whsec"))

	_, err = run(t, "sign", "PAY1")
	assert.Error(t, err)
}

func TestFixAndCheckCommands(t *testing.T) {
	useTestServices(t)

	out, err := run(t, "fix", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, `"created": true`)
	assert.Contains(t, out, "manual-fix-")

	out, err = run(t, "check", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, `"email": "ops@example.com"`)
	assert.Contains(t, out, `"status": "active"`)

	out, err = run(t, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "expired 0 subscription(s)\n", out)
}

func TestReconcileCommandNeedsToken(t *testing.T) {
	useTestServices(t)

	_, err := run(t, "reconcile", "PAY1", "--attempts", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
