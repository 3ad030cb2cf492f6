package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerConfigDefaults(t *testing.T) {
	holder, err := NewLedgerConfigHolder(Config{LedgerConfigPath: t.TempDir()})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, DefaultAlertWindowDays, cfg.AlertWindowDays)
	assert.Equal(t, 7*24*time.Hour, cfg.AlertWindow())
}

func TestLedgerConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("ledger:\n  alertWindowDays: 3\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), content, 0o600))

	holder, err := NewLedgerConfigHolder(Config{LedgerConfigPath: dir})
	require.NoError(t, err)
	assert.Equal(t, 3, holder.Get().AlertWindowDays)
}

func TestLedgerConfigRejectsNegativeWindow(t *testing.T) {
	dir := t.TempDir()
	content := []byte("ledger:\n  alertWindowDays: -1\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), content, 0o600))

	_, err := NewLedgerConfigHolder(Config{LedgerConfigPath: dir})
	assert.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *LedgerConfigHolder
	assert.Equal(t, DefaultLedgerConfig(), holder.Get())
}
