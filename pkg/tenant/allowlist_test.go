package tenant

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	tenantB = "22222222-2222-4222-8222-222222222222"
)

func TestValidateReasons(t *testing.T) {
	list, err := New(Options{Tenants: []string{tenantA, " "}})
	require.NoError(t, err)

	id, reason := list.Validate(" " + tenantA + " ")
	assert.Equal(t, ReasonOK, reason)
	assert.Equal(t, uuid.MustParse(tenantA), id)

	_, reason = list.Validate("")
	assert.Equal(t, ReasonMissing, reason)

	_, reason = list.Validate("not-a-uuid")
	assert.Equal(t, ReasonMalformed, reason)

	_, reason = list.Validate(uuid.Nil.String())
	assert.Equal(t, ReasonMalformed, reason)

	_, reason = list.Validate(tenantB)
	assert.Equal(t, ReasonUnknown, reason)
}

func TestEmptyListIsOpenOnlyInDev(t *testing.T) {
	open, err := New(Options{DevOpen: true})
	require.NoError(t, err)
	_, reason := open.Validate(tenantB)
	assert.Equal(t, ReasonOK, reason)
	assert.Equal(t, SourceOpen, open.Info().Source)

	closed, err := New(Options{})
	require.NoError(t, err)
	_, reason = closed.Validate(tenantB)
	assert.Equal(t, ReasonUnknown, reason)
}

func TestNewRejectsBadEntriesAndBothSources(t *testing.T) {
	_, err := New(Options{Tenants: []string{"nope"}})
	assert.Error(t, err)

	_, err = New(Options{Tenants: []string{tenantA}, Path: "tenants.yaml"})
	assert.Error(t, err)
}

func TestFileFormats(t *testing.T) {
	cases := map[string]string{
		"list.json":   `["` + tenantA + `","` + tenantB + `"]`,
		"object.json": `{"tenants":["` + tenantA + `","` + tenantB + `"]}`,
		"list.yaml":   "- " + tenantA + "\n- " + tenantB + "\n",
		"object.yml":  "tenants:\n  - " + tenantA + "\n  - " + tenantB + "\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, body)
			list, err := New(Options{Path: path})
			require.NoError(t, err)

			info := list.Info()
			assert.Equal(t, SourceFile, info.Source)
			assert.Equal(t, 2, info.Count)
			assert.Equal(t, []string{tenantA, tenantB}, info.Tenants)
		})
	}
}

func TestHotReloadUsesInjectedClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	path := writeFile(t, "tenants.yaml", "- "+tenantA+"\n")

	list, err := New(Options{Path: path, Refresh: time.Minute, Now: clock})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Info().Version)

	require.NoError(t, os.WriteFile(path, []byte("- "+tenantB+"\n"), 0o600))

	now = now.Add(30 * time.Second)
	_, reason := list.Validate(tenantB)
	assert.Equal(t, ReasonUnknown, reason, "reload must wait for the refresh window")

	now = now.Add(31 * time.Second)
	_, reason = list.Validate(tenantB)
	assert.Equal(t, ReasonOK, reason)
	_, reason = list.Validate(tenantA)
	assert.Equal(t, ReasonUnknown, reason)
	assert.Equal(t, 2, list.Info().Version)
}

func TestReloadFailureKeepsPreviousList(t *testing.T) {
	path := writeFile(t, "tenants.json", `["`+tenantA+`"]`)
	list, err := New(Options{Path: path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`["broken"]`), 0o600))
	assert.Error(t, list.Reload())

	info := list.Info()
	assert.Equal(t, 1, info.Count)
	assert.NotEmpty(t, info.LastError)
	_, reason := list.Validate(tenantA)
	assert.Equal(t, ReasonOK, reason)
}

func TestReloadWithSameContentKeepsVersion(t *testing.T) {
	path := writeFile(t, "tenants.json", `["`+tenantA+`"]`)
	list, err := New(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, list.Reload())
	assert.Equal(t, 1, list.Info().Version)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
