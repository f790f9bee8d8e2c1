package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cardcalc/internal/loader"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string)
		args      []string
		wantErr   bool
		wantFiles []string
		noFiles   []string
	}{
		{
			name:      "init empty directory",
			args:      []string{},
			wantFiles: []string{"cardcalc.yaml", ".gitignore"},
			noFiles:   []string{"landscape.yaml", "gitignore"},
		},
		{
			name:      "init with example",
			args:      []string{"--example"},
			wantFiles: []string{"cardcalc.yaml", ".gitignore", "landscape.yaml"},
		},
		{
			name:      "init into new directory",
			args:      []string{"sub/dir"},
			wantFiles: []string{"sub/dir/cardcalc.yaml"},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "cardcalc.yaml"), []byte("existing"), 0600)
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "cardcalc.yaml"), []byte("existing"), 0600)
			},
			args:      []string{"--force"},
			wantFiles: []string{"cardcalc.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				assert.FileExists(t, filepath.Join(tmpDir, f))
			}
			for _, f := range tt.noFiles {
				assert.NoFileExists(t, filepath.Join(tmpDir, f))
			}
		})
	}
}

func TestInitCreatesValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--example"})
	require.NoError(t, cmd.Execute())

	content, err := os.ReadFile("cardcalc.yaml")
	require.NoError(t, err)
	for _, expected := range []string{"state_path: .cardcalc/state.db", "max_length: 5000", "parallel: 4"} {
		assert.Contains(t, string(content), expected)
	}

	fixtures, err := loader.LoadFile("landscape.yaml")
	require.NoError(t, err)
	assert.Len(t, fixtures.Entities, 4)
	assert.Len(t, fixtures.Calculations, 2)
}

func TestGroupTemplateFiles(t *testing.T) {
	groups := groupTemplateFiles([]string{".gitignore", "cardcalc.yaml", "landscape.yaml"})
	assert.Equal(t, []string{".gitignore", "cardcalc.yaml"}, groups["config"])
	assert.Equal(t, []string{"landscape.yaml"}, groups["fixtures"])
}
