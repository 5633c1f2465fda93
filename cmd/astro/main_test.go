package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "astro.db"))
	t.Setenv("LOG_LEVEL", "warn")
}

func TestRun_Experts(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	code, out, stderr := run(t, "experts", "--json", "--locale", "ru")
	require.Equal(t, 0, code, stderr)

	var list []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, len(experts.Kinds))
	for _, e := range list {
		assert.NotEmpty(t, e.Name, e.ID)
		assert.Equal(t, experts.Version, e.Version)
	}

	code, out, _ = run(t, "experts")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "tarot")
}

func TestRun_Decks(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	code, out, stderr := run(t, "decks", "--type", "tarot")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "major")
	assert.NotContains(t, out, "elder_futhark")
}

func TestRun_DrawIsReproducible(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	args := []string{"draw", "--json", "--expert", "tarot", "--user", "42", "--date", "2024-01-01", "--input", "spread_id=tarot_three_ppf"}

	type result struct {
		Stage       string `json:"stage"`
		Fingerprint string `json:"fingerprint"`
		Draws       []struct {
			Key string `json:"key"`
		} `json:"draws"`
	}
	var first, again result
	code, out, stderr := run(t, args...)
	require.Equal(t, 0, code, stderr)
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	code, out, stderr = run(t, args...)
	require.Equal(t, 0, code, stderr)
	require.NoError(t, json.Unmarshal([]byte(out), &again))

	assert.Equal(t, "DONE", first.Stage)
	assert.Len(t, first.Draws, 3)
	assert.Equal(t, first, again)

	code, out, stderr = run(t, append(args, "--nonce", "1")...)
	require.Equal(t, 0, code, stderr)
	var redraw result
	require.NoError(t, json.Unmarshal([]byte(out), &redraw))
	assert.NotEqual(t, first.Fingerprint, redraw.Fingerprint)
}

func TestRun_DrawText(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	code, out, stderr := run(t, "draw", "--expert", "numerology", "--user", "7",
		"--input", "full_name=Ada Lovelace", "--input", "birth_date=1815-12-10")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "numerology")
	assert.Contains(t, out, "fingerprint: sha256:")
}

func TestRun_DrawRejectsInput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	code, _, stderr := run(t, "draw", "--expert", "tarot", "--user", "42", "--input", "spread_id=celtic")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "FORM")

	code, _, stderr = run(t, "draw", "--expert", "palmistry", "--user", "42")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown expert")

	code, _, _ = run(t, "draw", "--expert", "tarot")
	assert.Equal(t, 1, code, "--user is required")
}

func TestRun_EntitlementsPersist(t *testing.T) {
	useSQLite(t)

	code, _, stderr := run(t, "migrate")
	require.Equal(t, 0, code, stderr)

	code, out, stderr := run(t, "grant", "--user", "42", "--product", "pack_10", "--order", "ord-1")
	require.Equal(t, 0, code, stderr)
	var ent struct {
		ID        string `json:"id"`
		QuotaLeft int    `json:"quota_left"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &ent))
	assert.Equal(t, 10, ent.QuotaLeft)

	code, out, stderr = run(t, "grant", "--user", "42", "--product", "pack_10", "--order", "ord-1")
	require.Equal(t, 0, code, stderr)
	var again struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.Equal(t, ent.ID, again.ID, "grants are idempotent per order")

	code, out, stderr = run(t, "balance", "--user", "42")
	require.Equal(t, 0, code, stderr)
	var bal struct {
		Remaining int `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	assert.Equal(t, 10, bal.Remaining)

	code, out, stderr = run(t, "refund", "--user", "42", "--product", "pack_10")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `{"cancelled":1}`, out)

	code, out, _ = run(t, "balance", "--user", "42")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	assert.Equal(t, 0, bal.Remaining)
}

func TestRun_Metrics(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	code, out, stderr := run(t, "metrics")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `{"dau":0,"mau":0,"conversion_start_to_writer":0,"avg_generation_ms":0,"verifier_fail_pct":0}`, out)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	code, _, stderr := run(t, "experts")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "STORE_DRIVER")
}

func TestFlagValue(t *testing.T) {
	assert.Equal(t, 55.75, flagValue("55.75"))
	assert.Equal(t, true, flagValue("true"))
	assert.Equal(t, "1815-12-10", flagValue("1815-12-10"))
	assert.Equal(t, "Ada", flagValue("Ada"))
	assert.Equal(t, `"quoted"`, flagValue(`"quoted"`))
}
