package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), lifecycle("crawl-a", time.Unix(0, 0))))
	require.NoError(t, sink.Close(context.Background()))

	require.Equal(t, 4, logs.FilterMessage("progress event").Len())
	finished := logs.FilterMessage("crawl finished").All()
	require.Len(t, finished, 1)
	require.Equal(t, zapcore.InfoLevel, finished[0].Level)
	require.Equal(t, int64(2), finished[0].ContextMap()["total_crawled"])
}
