package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/pkg/config"
)

func TestNew_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(config.LogConfig{Dir: dir, Production: true}, "reporter")
	require.NoError(t, err)

	logger.Named("daily").Info("daily aggregation completed",
		zap.Int("processed", 3),
		zap.Int("failed", 1),
	)
	_ = logger.Sync()

	f, err := os.Open(filepath.Join(dir, "reporter.log"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var line map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
	assert.Equal(t, "reporter.daily", line["logger"])
	assert.Equal(t, "daily aggregation completed", line["msg"])
	assert.EqualValues(t, 3, line["processed"])
	assert.EqualValues(t, 1, line["failed"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
