package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/config"
)

func TestApplyDefaultsKeepsExplicitFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--grace=2h", "--dry-run"}))

	cfg := &config.Config{Reconcile: config.ReconcileConfig{
		Cron: "0 3 * * *", GracePeriod: time.Hour, RequeueAge: 15 * time.Minute, Parallelism: 8,
	}}
	var o options
	o.grace = 2 * time.Hour
	o.applyDefaults(cmd, cfg)

	require.Equal(t, 2*time.Hour, o.grace)
	require.Equal(t, "0 3 * * *", o.cron)
	require.Equal(t, 15*time.Minute, o.requeueAge)
	require.Equal(t, 8, o.parallelism)
}

func TestValidate(t *testing.T) {
	o := options{grace: time.Hour}
	require.Error(t, o.validate())

	o = options{once: true, cron: "0 3 * * *", grace: time.Hour}
	require.NoError(t, o.validate())
	require.Empty(t, o.cron)

	o = options{cron: "*/10 * * * *"}
	require.Error(t, o.validate())
}
