package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/conf"
)

func TestMySQLStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MySQL container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("polecam"),
		tcmysql.WithUsername("polecam"),
		tcmysql.WithPassword("polecam"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Output.MySQL = conf.MySQLSettings{
		Enabled:  true,
		Username: "polecam",
		Password: "polecam",
		Database: "polecam",
		Host:     host,
		Port:     port.Port(),
	}

	ds := New(settings, nil)
	require.NoError(t, ds.Open())
	defer func() { assert.NoError(t, ds.Close()) }()

	eventTS := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ds.SaveEvent("gate-1", eventTS, eventArrays("mysql")))
	require.NoError(t, ds.SaveCameraError("cam-1", broker.KindLessTriggers, true))

	events, err := ds.LatestEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, eventTS.Equal(events[0].EventTime))
	assert.Len(t, events[0].Shoots, 2)

	errs, err := ds.CameraErrors("cam-1", 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, string(broker.KindLessTriggers), errs[0].Kind)
}
