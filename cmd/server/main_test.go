package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/smartbot/internal/comparison"
)

func TestCompareCommand_Mock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
identity:
  jwt_secret: cli-test-secret-0123456789
comparison:
  provider: mock
  mock_latency: 1ms
logging:
  level: error
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"compare", "--config", path, "--store", "Giant", "--store", "Jaya Grocer", "red", "onion"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		compareStores = nil
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	var res comparison.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotNil(t, res.Data)
	assert.Equal(t, "Red onion", res.Data.ProductName)
	require.Len(t, res.Data.Stores, 2)
	assert.Equal(t, "Jaya Grocer", res.Data.Stores[1].StoreName)
}

func TestCompareCommand_RequiresProduct(t *testing.T) {
	rootCmd.SetArgs([]string{"compare"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	assert.Error(t, rootCmd.ExecuteContext(context.Background()))
}
