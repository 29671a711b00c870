package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"partners", "team"}, cfg.ProfileNames())
	assert.Equal(t, FailureAbort, cfg.Email.OnFailure)
	assert.Equal(t, FailureAbort, cfg.Trending.OnWriteFailure)
	assert.True(t, cfg.Email.ShouldEscape())
	assert.Equal(t, 20, cfg.Trending.Limit)
	assert.Equal(t, 10*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 30*time.Second, cfg.Workspace.Timeout)
}

func TestFromYAMLExpandsEnv(t *testing.T) {
	t.Setenv("BOARD_DS", "ds-board")
	cfg, err := FromYAML([]byte(`
agendas:
  board:
    data_source_id: ${BOARD_DS}
    flag_column: Done
`))
	require.NoError(t, err)
	p, err := cfg.Profile("board")
	require.NoError(t, err)
	assert.Equal(t, "ds-board", p.DataSourceID)
	assert.Equal(t, "Agenda Item", p.ItemColumn)
	assert.Equal(t, SortPersonItem, p.Sort)
	assert.Equal(t, "h3", p.Heading)
	assert.Equal(t, "Meeting Agenda", p.Subject)
}

func TestFromYAMLReplacesDefaultProfiles(t *testing.T) {
	cfg, err := FromYAML([]byte("agendas:\n  solo:\n    flag_column: Done\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, cfg.ProfileNames())

	cfg, err = FromYAML([]byte("email:\n  from: me@example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"partners", "team"}, cfg.ProfileNames())
	assert.Equal(t, "me@example.com", cfg.Email.From)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"email.on_failure":          "email:\n  on_failure: retry\n",
		"trending.on_write_failure": "trending:\n  on_write_failure: skip\n",
		"sort must be":              "agendas:\n  x:\n    flag_column: Done\n    sort: date\n",
		"heading must be":           "agendas:\n  x:\n    flag_column: Done\n    heading: h7\n",
		"flag_column is required":   "agendas:\n  x:\n    subject: S\n",
		"redis_addr":                "lock:\n  backend: redis\n",
		"trending.limit":            "trending:\n  limit: -1\n",
	}
	for want, yml := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := FromYAML([]byte(yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}

func TestEscapeHTMLCanBeDisabled(t *testing.T) {
	cfg, err := FromYAML([]byte("email:\n  escape_html: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Email.ShouldEscape())
}

func TestUnknownProfile(t *testing.T) {
	_, err := Default().Profile("board")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
	assert.Contains(t, err.Error(), "partners, team")
}

func TestLoad(t *testing.T) {
	ws := t.TempDir()
	_, err := Load(ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "desk init")

	cfg, err := LoadOptional(ws)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(ws, "desk.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(ws)
	require.NoError(t, err)
	assert.Len(t, cfg.Agendas, 2)
}
