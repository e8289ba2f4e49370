package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	cmd := root(t.TempDir())

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"server", "migrate", "export-history"})
}

func TestExportHistoryFlags(t *testing.T) {
	cmd := root(t.TempDir())
	cmd.SetArgs([]string{"export-history"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room")

	cmd = root(t.TempDir())
	cmd.SetArgs([]string{"export-history", "--room", "not-a-uuid"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --room")
}
